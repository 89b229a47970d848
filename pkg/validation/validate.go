package validation

import (
	"errors"
	"fmt"
	"strings"

	"earnhub/pkg/models"
)

// Rules drives message validation from configuration.
type Rules struct {
	MaxTextLen    int
	MaxPayloadLen int
	Kinds         []string
}

var rules = Rules{
	MaxTextLen:    2000,
	MaxPayloadLen: 2 << 20,
	Kinds:         []string{string(models.KindText), string(models.KindImage), string(models.KindFile)},
}

func SetRules(r Rules) {
	if r.MaxTextLen > 0 {
		rules.MaxTextLen = r.MaxTextLen
	}
	if r.MaxPayloadLen > 0 {
		rules.MaxPayloadLen = r.MaxPayloadLen
	}
	if len(r.Kinds) > 0 {
		rules.Kinds = r.Kinds
	}
}

// ValidateMessage checks an incoming chat message against the configured
// rules before it reaches the moderation guard.
func ValidateMessage(m models.ChatMessage) error {
	var errs []string
	if m.AuthorID == "" {
		errs = append(errs, "author is required")
	}
	kindOK := false
	for _, k := range rules.Kinds {
		if string(m.Kind) == k {
			kindOK = true
			break
		}
	}
	if !kindOK {
		errs = append(errs, fmt.Sprintf("invalid kind %q", m.Kind))
	}
	switch m.Kind {
	case models.KindText:
		if strings.TrimSpace(m.Text) == "" {
			errs = append(errs, "text is required")
		}
		if len(m.Text) > rules.MaxTextLen {
			errs = append(errs, fmt.Sprintf("text exceeds %d characters", rules.MaxTextLen))
		}
	case models.KindImage:
		if m.ImageURL == "" {
			errs = append(errs, "image payload is required")
		}
		if len(m.ImageURL) > rules.MaxPayloadLen {
			errs = append(errs, "image payload too large")
		}
	case models.KindFile:
		if m.FileURL == "" {
			errs = append(errs, "file payload is required")
		}
		if len(m.FileURL) > rules.MaxPayloadLen {
			errs = append(errs, "file payload too large")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
