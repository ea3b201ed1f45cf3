package scenario

import (
	"context"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/ocr"
	"go.uber.org/zap"
)

// ocrEligible reports whether a screen without a structural match may be
// resolved from a screenshot: either previous is ambiguous or the page
// expected after it is one that only OCR can confirm.
func (r *Raif) ocrEligible(previous domain.Page) bool {
	switch previous {
	case domain.PageTopUpCellPhone, domain.PagePasswordInput, domain.PageHomeScreen, domain.PageDefault:
		return true
	}
	st, ok := r.steps[previous]
	return ok && (st.next == domain.PageMain || st.next == domain.PageAmountSelection)
}

// matchMarkers returns the first page whose marker is present in tree
func matchMarkers(tree *device.UITree) (domain.Page, bool) {
	for _, pm := range raifMarkers {
		if tree.Matches(pm.marker) {
			return pm.page, true
		}
	}
	return domain.PageUnknown, false
}

// detect identifies the current page. UI markers are tried first. The
// screenshot fallback runs when previous allows it or when forceOCR is set.
// Device and OCR failures count as misses; only ctx errors are returned.
func (r *Raif) detect(ctx context.Context, s *session, previous domain.Page, forceOCR bool) (domain.Page, error) {
	useOCR := forceOCR || r.ocrEligible(previous)

	for attempt := 0; attempt < lagRetries; attempt++ {
		tree, err := s.dev.UIDump(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.PageUnknown, ctx.Err()
			}
			s.log.Debug("ui dump failed", zap.Int("attempt", attempt+1), zap.Error(err))
		} else if page, ok := matchMarkers(tree); ok {
			return page, nil
		}
		if useOCR {
			break
		}
	}

	for attempt := 0; attempt < lagRetries; attempt++ {
		if useOCR {
			page, err := r.recognize(ctx, s)
			if ctx.Err() != nil {
				return domain.PageUnknown, ctx.Err()
			}
			if err != nil {
				s.log.Debug("screen recognition failed", zap.Int("attempt", attempt+1), zap.Error(err))
			} else if page != domain.PageUnknown {
				return page, nil
			}
		}
		if err := sleep(ctx, r.timings.Short); err != nil {
			return domain.PageUnknown, err
		}
	}

	return domain.PageUnknown, nil
}

// recognize classifies a screenshot by the words visible on it
func (r *Raif) recognize(ctx context.Context, s *session) (domain.Page, error) {
	img, err := s.dev.Screenshot(ctx)
	if err != nil {
		return domain.PageUnknown, err
	}
	text, err := r.ocr.RecognizeText(ctx, img)
	if err != nil {
		return domain.PageUnknown, err
	}

	if containsAny(text, mainPageWords) {
		return domain.PageMain, nil
	}
	if containsAny(text, amountPageWords) {
		return domain.PageAmountSelection, nil
	}
	return domain.PageUnknown, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if ocr.ContainsFold(text, w) {
			return true
		}
	}
	return false
}
