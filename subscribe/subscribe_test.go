package subscribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := New[func()](Hooks{})
	assert.False(t, s.HasListeners())
	called := 0
	unsub := s.Subscribe(func() { called++ })
	assert.True(t, s.HasListeners())
	assert.Equal(t, 1, s.Len())
	s.Each(func(l func()) { l() })
	assert.Equal(t, 1, called)
	unsub()
	assert.False(t, s.HasListeners())
	s.Each(func(l func()) { l() })
	assert.Equal(t, 1, called)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	unsubs := 0
	s2 := New[int](Hooks{OnUnsubscribe: func() { unsubs++ }})
	unsub := s2.Subscribe(1)
	unsub()
	unsub()
	assert.Equal(t, 1, unsubs)
}

func TestHooksFireOnEveryTransition(t *testing.T) {
	subs, unsubs := 0, 0
	s := New[string](Hooks{
		OnSubscribe:   func() { subs++ },
		OnUnsubscribe: func() { unsubs++ },
	})
	u1 := s.Subscribe("a")
	u2 := s.Subscribe("b")
	assert.Equal(t, 2, subs)
	u1()
	u2()
	assert.Equal(t, 2, unsubs)
	assert.False(t, s.HasListeners())
}

func TestEachIteratesInSubscriptionOrder(t *testing.T) {
	s := New[string](Hooks{})
	s.Subscribe("first")
	s.Subscribe("second")
	s.Subscribe("third")
	var seen []string
	s.Each(func(l string) { seen = append(seen, l) })
	assert.Equal(t, []string{"first", "second", "third"}, seen)
}

func TestUnsubscribeDuringEach(t *testing.T) {
	s := New[*int](Hooks{})
	a, b := 0, 0
	var unsubB func()
	s.Subscribe(&a)
	unsubB = s.Subscribe(&b)
	s.Each(func(l *int) {
		*l++
		unsubB()
	})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 1, s.Len())
}
