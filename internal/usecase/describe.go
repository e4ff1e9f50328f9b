package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// softmaxScale sharpens cosine similarities before the softmax, as CLIP's
// logit scale does.
const softmaxScale = 100.0

// Describer labels an image with the most likely of a fixed set of
// captions (zero-shot classification).
type Describer struct {
	encoder port.Encoder
	decoder port.ImageDecoder
	topK    int
	logger  logrus.FieldLogger

	mu        sync.Mutex
	labels    []string
	labelVecs [][]float32
}

// DescriberOption customises a Describer.
type DescriberOption func(*Describer)

// WithDescriberLogger sets the logger used when labels are replaced.
func WithDescriberLogger(l logrus.FieldLogger) DescriberOption {
	return func(d *Describer) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDescriber scores images against labels. When the encoder embeds none
// of them but offers its own vocabulary, that vocabulary is used instead.
func NewDescriber(encoder port.Encoder, decoder port.ImageDecoder, labels []string, topK int, opts ...DescriberOption) *Describer {
	if topK <= 0 {
		topK = 3
	}
	d := &Describer{
		encoder: encoder,
		decoder: decoder,
		labels:  labels,
		topK:    topK,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Describer) Describe(ctx context.Context, path string) ([]domain.Label, error) {
	img, err := d.decoder.Decode(path)
	if err != nil {
		return nil, err
	}
	raw, err := d.encoder.EncodeImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	imgVec, err := domain.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize image vector: %w", err)
	}

	texts, labelVecs, err := d.encodeLabels(ctx)
	if err != nil {
		return nil, err
	}

	logits := make([]float64, len(labelVecs))
	for i, lv := range labelVecs {
		logits[i] = softmaxScale * domain.Dot(imgVec, lv)
	}
	probs := softmax(logits)

	labels := make([]domain.Label, len(probs))
	for i, p := range probs {
		labels[i] = domain.Label{Text: texts[i], Probability: p}
	}
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Probability > labels[j].Probability
	})
	return labels[:min(d.topK, len(labels))], nil
}

// encodeLabels embeds the label texts once and reuses them afterwards.
// Labels the encoder cannot embed score zero similarity.
func (d *Describer) encodeLabels(ctx context.Context) ([]string, [][]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.labelVecs != nil {
		return d.labels, d.labelVecs, nil
	}

	vecs, err := d.encodeAll(ctx, d.labels)
	if err != nil && !errors.Is(err, port.ErrNoLabels) {
		return nil, nil, err
	}
	if err != nil {
		vocab, ok := d.encoder.(port.LabelVocabulary)
		if !ok {
			return nil, nil, err
		}
		d.logger.WithFields(logrus.Fields{
			"encoder": d.encoder.ModelName(),
		}).Warn("encoder cannot embed the configured labels, using its own vocabulary")

		labels := vocab.Labels()
		if vecs, err = d.encodeAll(ctx, labels); err != nil {
			return nil, nil, err
		}
		d.labels = labels
	}

	d.labelVecs = vecs
	return d.labels, vecs, nil
}

func (d *Describer) encodeAll(ctx context.Context, labels []string) ([][]float32, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels configured", port.ErrNoLabels)
	}

	vecs := make([][]float32, len(labels))
	encoded := 0
	var lastErr error
	for i, label := range labels {
		raw, err := d.encoder.EncodeText(ctx, label)
		if err == nil {
			vecs[i], err = domain.Normalize(raw)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		encoded++
	}
	if encoded == 0 {
		return nil, fmt.Errorf("%w (%s): %v", port.ErrNoLabels, d.encoder.ModelName(), lastErr)
	}
	return vecs, nil
}

func softmax(logits []float64) []float64 {
	lse := floats.LogSumExp(logits)
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(l - lse)
	}
	return out
}
