package tracing

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	opentracing_ext "github.com/opentracing/opentracing-go/ext"
	opentracing_log "github.com/opentracing/opentracing-go/log"

	"github.com/RichardKnop/combiner/tasks"
)

// opentracing tags
var (
	CombinerTag = opentracing.Tag{Key: string(opentracing_ext.Component), Value: "combiner"}
)

// StartSpanFromHeaders will extract a span from the signature headers
// and start a new span with the given operation name.
func StartSpanFromHeaders(headers tasks.Headers, operationName string) opentracing.Span {
	// Try to extract the span context from the carrier.
	spanContext, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, headers)
	if err != nil {
		spanContext = nil
	}

	// Create a new span from the span context if found or start a new trace with the function name.
	// For clarity add the combiner component tag.
	span := opentracing.StartSpan(
		operationName,
		ConsumerOption(spanContext),
		CombinerTag,
	)

	// Log any error but don't fail
	if err != nil && err != opentracing.ErrSpanContextNotFound {
		span.LogFields(opentracing_log.Error(err))
	}

	return span
}

// HeadersWithSpan will inject a span into the signature headers
func HeadersWithSpan(headers tasks.Headers, span opentracing.Span) tasks.Headers {
	// check if the headers aren't nil
	if headers == nil {
		headers = make(tasks.Headers)
	}

	if err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, headers); err != nil {
		span.LogFields(opentracing_log.Error(err))
	}

	return headers
}

type consumerOption struct {
	producerContext opentracing.SpanContext
}

func (c consumerOption) Apply(o *opentracing.StartSpanOptions) {
	if c.producerContext != nil {
		opentracing.FollowsFrom(c.producerContext).Apply(o)
	}
	opentracing_ext.SpanKindConsumer.Apply(o)
}

// ConsumerOption ...
func ConsumerOption(producer opentracing.SpanContext) opentracing.StartSpanOption {
	return consumerOption{producer}
}

type producerOption struct{}

func (p producerOption) Apply(o *opentracing.StartSpanOptions) {
	opentracing_ext.SpanKindProducer.Apply(o)
}

// ProducerOption ...
func ProducerOption() opentracing.StartSpanOption {
	return producerOption{}
}

// StartProducerSpan starts a producer span for sending a signature, as a
// child of any span already in ctx
func StartProducerSpan(ctx context.Context, signature *tasks.Signature) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SendTask", ProducerOption(), CombinerTag)
	AnnotateSpanWithSignatureInfo(span, signature)
	return span, ctx
}

// AnnotateSpanWithSignatureInfo ...
func AnnotateSpanWithSignatureInfo(span opentracing.Span, signature *tasks.Signature) {
	// tag the span with some info about the signature
	span.SetTag("signature.name", signature.Name)
	span.SetTag("signature.uuid", signature.UUID)
	span.SetTag("signature.args.length", len(signature.Args))
}
