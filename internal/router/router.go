package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// Error codes carried by error frames
const (
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal"
)

// FeedbackService is the part of the coordinator reachable from client frames
type FeedbackService interface {
	SubmitLiveRating(ctx context.Context, classID string, topicID int, score int) (types.RatingResult, error)
	SubmitComment(ctx context.Context, classID string, text string) (*types.Comment, error)
}

// Sender identifies the connection a frame arrived on
type Sender struct {
	Token   string
	ClassID string
	Role    types.Role
}

// Router decodes inbound client frames and forwards them to the feedback service
// ARCHITECTURAL DISCOVERY: Pure frame routing without connection handling; replies go back
// through the interfaces.Connection the frame arrived on
type Router struct {
	service     FeedbackService
	rateLimiter *RateLimiter
}

// NewRouter creates a frame router allowing limit live frames per window per connection
func NewRouter(service FeedbackService, limit int, window time.Duration) *Router {
	return &Router{
		service:     service,
		rateLimiter: NewRateLimiter(limit, window),
	}
}

// HandleFrame processes one text frame. Every frame is answered with an ack or an error frame;
// the returned error is for logging only.
func (r *Router) HandleFrame(ctx context.Context, conn interfaces.Connection, sender Sender, data []byte) error {
	var frame types.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return r.reply(conn, fmt.Errorf("%w: %v", ErrInvalidFrame, err))
	}

	switch frame.Type {
	case types.FrameLiveRating, types.FrameComment:
	default:
		return r.reply(conn, fmt.Errorf("%w: %q", ErrInvalidMessageType, frame.Type))
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per connection before persistence to prevent spam
	if !r.rateLimiter.Allow(sender.Token) {
		return r.reply(conn, ErrRateLimitExceeded)
	}

	switch frame.Type {
	case types.FrameLiveRating:
		var payload types.LiveRatingFrame
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return r.reply(conn, fmt.Errorf("%w: %v", ErrInvalidFrame, err))
		}
		result, err := r.service.SubmitLiveRating(ctx, sender.ClassID, payload.TopicID, payload.Score)
		if err != nil {
			return r.reply(conn, err)
		}
		return conn.WriteJSON(types.NewFrame(types.FrameLiveRatingAck, result))

	default:
		var payload types.CommentFrame
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return r.reply(conn, fmt.Errorf("%w: %v", ErrInvalidFrame, err))
		}
		comment, err := r.service.SubmitComment(ctx, sender.ClassID, payload.Text)
		if err != nil {
			return r.reply(conn, err)
		}
		return conn.WriteJSON(types.NewFrame(types.FrameCommentAck, comment))
	}
}

// Forget releases per-connection state
func (r *Router) Forget(token string) {
	r.rateLimiter.Forget(token)
}

// Run periodically drops idle rate limiter entries until ctx is done
func (r *Router) Run(ctx context.Context) {
	r.rateLimiter.Run(ctx)
}

// reply sends an error frame for err and returns err
func (r *Router) reply(conn interfaces.Connection, err error) error {
	frame := types.ErrorFrame{Code: ErrorCode(err), Message: err.Error()}
	if frame.Code == CodeInternal {
		frame.Message = "internal error"
	}
	if writeErr := conn.WriteJSON(types.NewFrame(types.FrameError, frame)); writeErr != nil {
		log.Printf("Failed to send error frame: %v", writeErr)
	}
	return err
}

// ErrorCode maps an error onto the code carried by error frames
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrInvalidMessageType):
		return CodeInvalidInput
	case errors.Is(err, types.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
