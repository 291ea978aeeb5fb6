package browser

import (
	"context"
	"fmt"

	"github.com/spigell/zhipin-responder/internal/behavior"
	"github.com/spigell/zhipin-responder/internal/utils"
)

// Human drives a Page the way a person would: the pointer travels along a
// noisy path before each click and text is typed one rune at a time.
type Human struct {
	page    Page
	profile *behavior.Profile
	pos     behavior.Point
}

func NewHuman(page Page, profile *behavior.Profile) *Human {
	return &Human{page: page, profile: profile}
}

func (h *Human) Page() Page {
	return h.page
}

func (h *Human) Click(ctx context.Context, selector string) error {
	if h.profile == nil || !h.profile.AntiDetection() {
		return h.page.Click(ctx, selector)
	}

	box, err := h.page.Box(ctx, selector)
	if err != nil {
		return err
	}

	target := h.profile.ClickTarget(box.X, box.Y, box.Width, box.Height)
	for _, pt := range h.profile.PointerPath(h.pos, target) {
		if err := h.page.MoveMouse(ctx, pt.X, pt.Y); err != nil {
			return fmt.Errorf("move pointer to %s: %w", selector, err)
		}
	}
	h.pos = target

	return h.page.ClickMouse(ctx)
}

// Type focuses the field with a click and then enters text.
func (h *Human) Type(ctx context.Context, selector, text string) error {
	if err := h.Click(ctx, selector); err != nil {
		return err
	}

	if h.profile == nil || !h.profile.AntiDetection() {
		return h.page.Type(ctx, selector, text)
	}

	for _, r := range text {
		if err := h.page.Type(ctx, selector, string(r)); err != nil {
			return err
		}
		if err := utils.WaitFor(ctx, h.profile.KeystrokeDelay()); err != nil {
			return err
		}
	}

	return nil
}

// Scroll performs the wheel movements of plan with a reading pause after
// each one.
func (h *Human) Scroll(ctx context.Context, plan []float64) error {
	for _, dy := range plan {
		if err := h.page.Scroll(ctx, dy); err != nil {
			return fmt.Errorf("scroll page: %w", err)
		}
		if h.profile == nil {
			continue
		}
		if err := utils.WaitFor(ctx, h.profile.ScrollPause()); err != nil {
			return err
		}
	}
	return nil
}
