package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolFunc{
		ToolName: "remediation",
		Fn: func(_ context.Context, payload map[string]interface{}) (Result, error) {
			return Success(map[string]interface{}{"applied": payload["action"]}), nil
		},
	}))

	result, err := reg.Execute(context.Background(), "remediation", map[string]interface{}{"action": "account_disable"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "account_disable", result.Data["applied"])
}

func TestRegistryMissingToolIsErrorResult(t *testing.T) {
	reg := NewRegistry()

	result, err := reg.Execute(context.Background(), "no_such_tool", nil)
	require.NoError(t, err, "a missing tool resolves to a status, not a transport error")
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "no_such_tool")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	tool := ToolFunc{ToolName: "orchestrator", Fn: func(context.Context, map[string]interface{}) (Result, error) {
		return Success(nil), nil
	}}

	require.NoError(t, reg.Register(tool))
	assert.Error(t, reg.Register(tool))
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"orchestrator", "communication", "remediation"} {
		require.NoError(t, reg.Register(ToolFunc{ToolName: name, Fn: func(context.Context, map[string]interface{}) (Result, error) {
			return Success(nil), nil
		}}))
	}
	assert.Equal(t, []string{"communication", "orchestrator", "remediation"}, reg.Names())
}

func TestToolErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolFunc{
		ToolName: "flaky",
		Fn: func(context.Context, map[string]interface{}) (Result, error) {
			return Result{}, errors.New("bus down")
		},
	}))

	_, err := reg.Execute(context.Background(), "flaky", nil)
	assert.Error(t, err)
}
