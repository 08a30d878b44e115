package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbacks_RaiseWithoutHandlers(t *testing.T) {
	var c Callbacks
	c.RaiseMessage(Message{Number: 1})
	assert.Equal(t, Cancel, c.RaiseFailure(Failure{Code: 1}))
}

func TestCallbacks_SetReturnsPrevious(t *testing.T) {
	var c Callbacks
	var seen []string

	first := func(Message) { seen = append(seen, "first") }
	second := func(Message) { seen = append(seen, "second") }

	assert.Nil(t, c.SetMessageHandler(first))
	prev := c.SetMessageHandler(second)
	assert.NotNil(t, prev)

	c.RaiseMessage(Message{})
	prev(Message{})
	assert.Equal(t, []string{"second", "first"}, seen)
}

func TestCallbacks_ErrorHandlerAction(t *testing.T) {
	var c Callbacks
	var got Failure

	c.SetErrorHandler(func(f Failure) Action {
		got = f
		return Continue
	})

	action := c.RaiseFailure(Failure{ConnID: "x", Code: 20003})
	assert.Equal(t, Continue, action)
	assert.Equal(t, "x", got.ConnID)
	assert.Equal(t, 20003, got.Code)

	prev := c.SetErrorHandler(nil)
	assert.NotNil(t, prev)
	assert.Equal(t, Cancel, c.RaiseFailure(Failure{}))
}
