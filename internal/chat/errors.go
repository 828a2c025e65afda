package chat

import (
	"fmt"

	"consultdesk/pkg/interfaces"
)

// ErrRoomForbidden is returned when a lead acts on a room other than its own
var ErrRoomForbidden = fmt.Errorf("%w: leads may only use their own room", interfaces.ErrForbidden)
