//go:build !linux

package commands

import (
	"fmt"
	"os"

	"github.com/haivivi/globalfifo/pkg/notify"
)

func notifySIGIO(chan<- os.Signal) error {
	return fmt.Errorf("--signal: %w", notify.ErrUnsupported)
}
