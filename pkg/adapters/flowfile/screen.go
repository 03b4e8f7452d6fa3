package flowfile

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/tillflow/pkg/domain"
)

// ScreenState presents a fixed text. ${key} placeholders are replaced with scope
// values; unknown keys expand to an empty string.
type ScreenState struct {
	Text string
}

// Enter implements domain.State.
func (s ScreenState) Enter(_ context.Context, conv domain.Conversation, _ domain.Action) (domain.Screen, error) {
	return os.Expand(s.Text, func(key string) string {
		v, ok := conv.Scope().Lookup(key)
		if !ok {
			return ""
		}
		return fmt.Sprint(v)
	}), nil
}
