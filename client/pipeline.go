package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/policy"
	"github.com/heibot/safety/violation"
)

// classifiers holds the wrapped backends evaluations fan out to.
type classifiers struct {
	faces  classifier.FaceDetector
	images classifier.ImageSafetyClassifier
	texts  classifier.TextClassifier
}

func newClassifiers(opts Options) classifiers {
	var cs classifiers
	if opts.Faces != nil {
		cs.faces = classifier.WrapFaceDetector(opts.Faces, opts.Resilient)
	}
	if opts.Images != nil {
		cs.images = classifier.WrapImageClassifier(opts.Images, opts.Resilient)
	}
	if opts.Texts != nil {
		cs.texts = classifier.WrapTextClassifier(opts.Texts, opts.Resilient)
	}
	return cs
}

func (cs classifiers) empty() bool {
	return cs.faces == nil && cs.images == nil && cs.texts == nil
}

// missing reports the signals ct needs that no configured backend can
// produce. A missing signal is treated like a failed classifier call.
func (cs classifiers) missing(ct safety.ContentType, requireFace bool) error {
	var names []string
	if ct == safety.ContentImageUpload {
		if cs.images == nil {
			names = append(names, "image safety")
		}
		if requireFace && cs.faces == nil {
			names = append(names, "face detection")
		}
	} else if cs.texts == nil {
		names = append(names, "text")
	}
	if len(names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: no %s classifier configured", safety.ErrClassifierUnavailable, strings.Join(names, " or "))
}

// signals runs the classifiers that apply to ct concurrently. The first
// failure cancels the rest; scores from several backends merge keeping the
// highest score per category.
func (cs classifiers) signals(ctx context.Context, ct safety.ContentType, content Content, userID string, meta *classifier.ImageMeta, requireFace bool) (policy.Signals, error) {
	sig := policy.Signals{Image: meta, Text: content.Text}
	if err := cs.missing(ct, requireFace); err != nil {
		return sig, err
	}

	var (
		mu    sync.Mutex
		lists []violation.Scores
		faces *classifier.FaceResult
	)
	add := func(s violation.Scores) {
		mu.Lock()
		lists = append(lists, s)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if ct == safety.ContentImageUpload {
		in := classifier.ImageInput{Data: content.Image, URL: content.ImageURL, UserID: userID}
		if cs.faces != nil {
			g.Go(func() error {
				res, err := cs.faces.DetectFaces(gctx, in)
				if err != nil {
					return err
				}
				faces = &res
				return nil
			})
		}
		if cs.images != nil {
			g.Go(func() error {
				s, err := cs.images.ClassifyImage(gctx, in)
				if err != nil {
					return err
				}
				add(s)
				return nil
			})
		}
	} else if cs.texts != nil {
		g.Go(func() error {
			s, err := cs.texts.ClassifyText(gctx, classifier.TextInput{Text: content.Text, ContentType: ct, UserID: userID})
			if err != nil {
				return err
			}
			add(s)
			return nil
		})
	}

	err := g.Wait()
	sig.Faces = faces
	sig.Scores = violation.Merge(lists...)
	return sig, err
}

// actionRank orders decision actions by strictness.
func actionRank(a safety.DecisionAction) int {
	switch a {
	case safety.ActionAllow:
		return 1
	case safety.ActionWarn:
		return 2
	case safety.ActionBlock:
		return 3
	}
	return 0
}
