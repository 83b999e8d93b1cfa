package query

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/querykit/go-querykit/retry"
)

var tracer = otel.Tracer("querykit/query")

// traceFetch wraps one query fetch attempt in a span. With the default
// no-op tracer provider this costs nothing.
func (c *Client) traceFetch(q *Query, fn func() (any, error)) func() (any, error) {
	return func() (any, error) {
		_, span := tracer.Start(context.Background(), "query.fetch",
			trace.WithAttributes(
				attribute.String("query.hash", q.Hash()),
				attribute.String("client.id", c.id),
			))
		data, err := fn()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		return data, err
	}
}

// traceMutation starts the retryer and wraps its settlement in a span.
func (c *Client) traceMutation(m *Mutation, r *retry.Retryer) *retry.Future {
	_, span := tracer.Start(context.Background(), "mutation.execute",
		trace.WithAttributes(
			attribute.Int("mutation.id", m.ID()),
			attribute.String("client.id", c.id),
		))
	future := r.Start()
	go func() {
		<-future.Done()
		_, err, _ := future.Result()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()
	return future
}
