package notify

import "errors"

var (
	// ErrConnectionGone is returned by a Pusher when the target connection
	// closed between target resolution and delivery. The Notifier treats it
	// as a benign race and does not report it.
	ErrConnectionGone = errors.New("notify: connection gone")

	// ErrNoPusher is returned when the Notifier has no transport configured.
	ErrNoPusher = errors.New("notify: no pusher configured")
)
