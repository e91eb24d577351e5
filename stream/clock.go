package stream

import "time"

// Timer 可取消的一次性定时器。
type Timer interface {
	Stop() bool
}

// Clock 时间源；测试中替换为可手动推进的实现。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
