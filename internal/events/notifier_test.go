package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_EmitDeliversInOrder(t *testing.T) {
	n := NewNotifier()

	var got []Type
	n.Register(ObserverFunc(func(eventType Type, payload Payload) error {
		got = append(got, eventType)
		return nil
	}))

	n.Emit(TypeHealthCheck, Payload{"service_id": "a"})
	n.Emit(TypeIncidentCreated, Payload{"incident_id": "b"})
	n.Emit(TypeIncidentResolved, Payload{"incident_id": "b"})

	assert.Equal(t, []Type{TypeHealthCheck, TypeIncidentCreated, TypeIncidentResolved}, got)
}

func TestNotifier_ObserverErrorDoesNotStopDelivery(t *testing.T) {
	n := NewNotifier()

	var delivered int
	n.Register(ObserverFunc(func(Type, Payload) error {
		return errors.New("observer down")
	}))
	n.Register(ObserverFunc(func(Type, Payload) error {
		delivered++
		return nil
	}))

	n.Emit(TypeHealthCheck, nil)
	n.Emit(TypeHealthCheck, nil)

	assert.Equal(t, 2, delivered, "second observer must receive all events")
}

func TestNotifier_ObserverPanicIsRecovered(t *testing.T) {
	n := NewNotifier()

	var delivered int
	n.Register(ObserverFunc(func(Type, Payload) error {
		panic("boom")
	}))
	n.Register(ObserverFunc(func(Type, Payload) error {
		delivered++
		return nil
	}))

	assert.NotPanics(t, func() { n.Emit(TypeIncidentUpdated, Payload{"x": 1}) })
	assert.Equal(t, 1, delivered)
}

func TestNotifier_EmitWithNoObservers(t *testing.T) {
	n := NewNotifier()
	assert.NotPanics(t, func() { n.Emit(TypeHealthCheck, Payload{"ok": true}) })
}
