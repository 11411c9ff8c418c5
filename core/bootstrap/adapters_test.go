package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/flow"
	"github.com/mukisa/paybot/core/ura"
)

func TestReferenceStatusMapping(t *testing.T) {
	assert.Equal(t, flow.ReferenceAvailable, referenceStatus(ura.StatusActive))
	assert.Equal(t, flow.ReferencePaid, referenceStatus(ura.StatusPaid))
	assert.Equal(t, flow.ReferenceInvalid, referenceStatus(ura.StatusInvalid))
	assert.Equal(t, flow.ReferenceInvalid, referenceStatus(""))
	assert.Equal(t, flow.ReferenceInvalid, referenceStatus("X"))
}

func TestCompletionResultMapping(t *testing.T) {
	ok := completionResult(ura.CompleteResult{Code: ura.CodeCompleted, Status: "SUCCESS"})
	assert.True(t, ok.Accepted)
	assert.False(t, ok.InvalidReference)
	assert.Equal(t, "SUCCESS", ok.Description)

	bad := completionResult(ura.CompleteResult{Code: ura.CodeInvalidPRN, Status: "INVALID PRN"})
	assert.False(t, bad.Accepted)
	assert.True(t, bad.InvalidReference)

	other := completionResult(ura.CompleteResult{Code: "1099", Status: "DECLINED"})
	assert.False(t, other.Accepted)
	assert.False(t, other.InvalidReference)
}

func TestQueueRefUnbound(t *testing.T) {
	var q queueRef
	ev := chat.Event{ID: "ev-1", Identity: "256772000001", Kind: chat.KindText, Text: "hi"}
	err := q.Enqueue(context.Background(), ev)
	assert.ErrorIs(t, err, errDispatchUnbound)
}
