// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"grimm.is/flowgate/internal/errors"
)

// toStatus maps an administration error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(errors.GetKind(err)), err.Error())
}

func codeOf(k errors.Kind) codes.Code {
	switch k {
	case errors.KindValidation:
		return codes.InvalidArgument
	case errors.KindNotFound:
		return codes.NotFound
	case errors.KindConflict:
		return codes.AlreadyExists
	case errors.KindStorage, errors.KindUnavailable:
		return codes.Unavailable
	case errors.KindCapacity:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// fromStatus turns a gRPC error back into a kinded error for callers.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return errors.Wrap(err, errors.KindUnavailable, "request aborted")
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, errors.KindUnavailable, "rpc failed")
	}

	var kind errors.Kind
	switch st.Code() {
	case codes.InvalidArgument:
		kind = errors.KindValidation
	case codes.NotFound:
		kind = errors.KindNotFound
	case codes.AlreadyExists:
		kind = errors.KindConflict
	case codes.ResourceExhausted:
		kind = errors.KindCapacity
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		kind = errors.KindUnavailable
	default:
		kind = errors.KindInternal
	}
	return errors.New(kind, st.Message())
}
