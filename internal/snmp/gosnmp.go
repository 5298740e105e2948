package snmp

import (
	"context"
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

// DefaultPort SNMP 默认端口
const DefaultPort = 161

// GoSNMPBackend 基于 gosnmp 的网络后端，v1 使用 GETNEXT walk，v2c 使用 GETBULK walk
type GoSNMPBackend struct{}

func (GoSNMPBackend) client(ctx context.Context, target Target) (*gosnmp.GoSNMP, error) {
	version := gosnmp.Version2c
	switch target.Version {
	case "1":
		version = gosnmp.Version1
	case "", "2c":
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q", target.Version)
	}
	port := target.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := target.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	community := target.Community
	if community == "" {
		community = "public"
	}
	return &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             target.Address,
		Port:               uint16(port),
		Community:          community,
		Version:            version,
		Timeout:            timeout,
		Retries:            target.Retries,
		MaxRepetitions:     10,
		ExponentialTimeout: false,
	}, nil
}

// Walk 遍历 oid 下的全部对象
func (b GoSNMPBackend) Walk(ctx context.Context, target Target, oid string) ([]Varbind, error) {
	client, err := b.client(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("SNMP connect to %s failed: %w", target.Address, err)
	}
	defer client.Conn.Close()

	var pdus []gosnmp.SnmpPDU
	if client.Version == gosnmp.Version1 {
		pdus, err = client.WalkAll(oid)
	} else {
		pdus, err = client.BulkWalkAll(oid)
	}
	if err != nil {
		return nil, fmt.Errorf("SNMP walk of %s on %s failed: %w", oid, target.Address, err)
	}

	vbs := make([]Varbind, 0, len(pdus))
	for _, pdu := range pdus {
		switch pdu.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
			return nil, ErrNoSuchObject
		case gosnmp.EndOfMibView, gosnmp.Null:
			continue
		}
		vbs = append(vbs, Varbind{OID: pdu.Name, Value: pduValue(pdu)})
	}
	return vbs, nil
}

func pduValue(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString, gosnmp.BitString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		if s, ok := pdu.Value.(string); ok {
			return s
		}
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).String()
	}
	return fmt.Sprint(pdu.Value)
}
