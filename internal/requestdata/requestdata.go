package requestdata

import (
	"context"

	"github.com/google/uuid"
)

var requestDataKey = struct{}{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// RequestData identifies the caller of one request. SessionID is always set;
// UserID is uuid.Nil until the session authenticates via Bullhorn.
type RequestData struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

// CallerID is the identity chats are owned by: the user id once
// authenticated, otherwise the anonymous session id.
func (rd *RequestData) CallerID() uuid.UUID {
	if rd == nil {
		return uuid.Nil
	}
	if rd.UserID != uuid.Nil {
		return rd.UserID
	}
	return rd.SessionID
}

func (rd *RequestData) Authenticated() bool {
	return rd != nil && rd.UserID != uuid.Nil
}
