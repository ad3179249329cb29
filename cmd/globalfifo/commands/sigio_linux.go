package commands

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func notifySIGIO(ch chan<- os.Signal) error {
	signal.Notify(ch, unix.SIGIO)
	return nil
}
