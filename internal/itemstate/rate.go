package itemstate

import (
	"errors"
	"fmt"
	"math"
)

// ErrCounterWrapped 计数器尚无有效的上一次采样，本周期无法计算速率
var ErrCounterWrapped = errors.New("counter wrapped")

// WrapError 带原因的计数器回绕
type WrapError struct {
	Name   string
	Reason string
}

func (e *WrapError) Error() string {
	return fmt.Sprintf("counter %s wrapped: %s", e.Name, e.Reason)
}

func (e *WrapError) Is(target error) bool {
	return target == ErrCounterWrapped
}

// OnWrap 计数器回绕时的处理策略
type OnWrap int

const (
	// OnWrapSkip 默认：记录回绕，本周期检查结果挂起
	OnWrapSkip OnWrap = iota
	// OnWrapRaise 立即返回错误，不记录
	OnWrapRaise
	// OnWrapZero 以 0 作为速率
	OnWrapZero
)

type rateOptions struct {
	allowNegative bool
	isRate        bool
	onWrap        OnWrap
}

// RateOption Rate 可选项
type RateOption func(*rateOptions)

// AllowNegative 允许数值下降（返回负速率）
func AllowNegative() RateOption {
	return func(o *rateOptions) { o.allowNegative = true }
}

// IsRate 传入的值本身已是速率
func IsRate() RateOption {
	return func(o *rateOptions) { o.isRate = true }
}

// WithOnWrap 指定回绕策略
func WithOnWrap(policy OnWrap) RateOption {
	return func(o *rateOptions) { o.onWrap = policy }
}

// Counters 某个检查实例的计数器视图
type Counters struct {
	store     *Store
	checkType string
	item      string
	wrapped   []error
}

func (c *Counters) key(name string) Key {
	return Key{CheckType: c.checkType, Item: c.item, Name: name}
}

// Rate 计算每秒速率。首先写入本次采样，然后与上一次采样比较：
// 没有上一次采样、时间未前进、或数值下降（未允许负值）时视为计数器回绕。
func (c *Counters) Rate(name string, now, value float64, opts ...RateOption) (float64, error) {
	o := rateOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	rate, err := c.counter(name, now, value, o)
	if err == nil {
		return rate, nil
	}
	switch o.onWrap {
	case OnWrapZero:
		return 0, nil
	case OnWrapRaise:
		return 0, err
	default:
		c.wrapped = append(c.wrapped, err)
		return 0, err
	}
}

func (c *Counters) counter(name string, now, value float64, o rateOptions) (float64, error) {
	key := c.key(name)
	last, ok := c.store.Lookup(key)
	c.store.Set(key, Record{Time: now, Value: value})

	if !ok {
		return 0, &WrapError{Name: name, Reason: "counter initialization"}
	}
	dt := now - last.Time
	if dt <= 0 {
		return 0, &WrapError{Name: name, Reason: "no time difference"}
	}

	var rate float64
	if o.isRate {
		rate = value
	} else {
		rate = (value - last.Value) / dt
	}
	if rate < 0 && !o.allowNegative {
		return 0, &WrapError{Name: name, Reason: "negative rate"}
	}
	return rate, nil
}

// Average 指数滑动平均，backlogMinutes 分钟前的样本权重衰减为 50%。
// 第一次调用时以 0（initZero）或当前值作为初值并立即保存。
func (c *Counters) Average(name string, now, value, backlogMinutes float64, initZero bool) float64 {
	key := c.key(name)
	last, ok := c.store.Lookup(key)
	if !ok {
		if initZero {
			value = 0
		}
		c.store.Set(key, Record{Time: now, Value: value})
		return value
	}

	dt := now - last.Time
	if dt < 0 {
		dt = 0
	}
	weight := 0.0
	if backlogMinutes > 0 {
		weight = math.Pow(0.5, (dt/60.0)/backlogMinutes)
	}
	avg := last.Value*weight + value*(1-weight)
	c.store.Set(key, Record{Time: now, Value: avg})
	return avg
}

// Clear 删除当前视图下的计数器
func (c *Counters) Clear(name string) {
	c.store.Clear(c.key(name))
}

// Wrapped 本次检查中按默认策略记录的回绕，没有则返回 nil
func (c *Counters) Wrapped() error {
	if len(c.wrapped) == 0 {
		return nil
	}
	return errors.Join(c.wrapped...)
}
