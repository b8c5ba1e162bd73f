package domains

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpr "github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
)

// Runtime exposes the CDP Runtime domain actions used to run page scripts.
type Runtime interface {
	// CallFunctionOn calls fn with this bound to the remote object objectID.
	CallFunctionOn(
		ctx context.Context, objectID, fn string, byValue bool, args ...interface{},
	) (*cdpr.RemoteObject, error)
	Evaluate(ctx context.Context, expression string, byValue bool) (*cdpr.RemoteObject, error)
	ReleaseObject(ctx context.Context, objectID string) error
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

func (r *runtime) Evaluate(ctx context.Context, expression string, byValue bool) (*cdpr.RemoteObject, error) {
	action := cdpr.Evaluate(expression).
		WithReturnByValue(byValue).
		WithAwaitPromise(true)

	res, exception, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exception != nil {
		return nil, exceptionError(exception)
	}

	return res, nil
}

func (r *runtime) CallFunctionOn(
	ctx context.Context, objectID, fn string, byValue bool, args ...interface{},
) (*cdpr.RemoteObject, error) {
	callArgs := make([]*cdpr.CallArgument, 0, len(args))
	for _, a := range args {
		buf, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshaling call argument: %w", err)
		}
		callArgs = append(callArgs, &cdpr.CallArgument{Value: easyjson.RawMessage(buf)})
	}

	action := cdpr.CallFunctionOn(fn).
		WithObjectID(cdpr.RemoteObjectID(objectID)).
		WithArguments(callArgs).
		WithReturnByValue(byValue).
		WithAwaitPromise(true)

	res, exception, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return nil, fmt.Errorf("calling function on %s: %w", objectID, err)
	}
	if exception != nil {
		return nil, exceptionError(exception)
	}

	return res, nil
}

func (r *runtime) ReleaseObject(ctx context.Context, objectID string) error {
	action := cdpr.ReleaseObject(cdpr.RemoteObjectID(objectID))
	return action.Do(cdp.WithExecutor(ctx, r.exec))
}

func exceptionError(d *cdpr.ExceptionDetails) error {
	if d.Exception != nil && d.Exception.Description != "" {
		return fmt.Errorf("%s", d.Exception.Description)
	}
	return fmt.Errorf("%s", d.Text)
}
