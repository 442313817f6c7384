package manager

import (
	"github.com/google/uuid"

	"github.com/go-mx/mx/channel"
	"github.com/go-mx/mx/wire"
)

// targetKind distinguishes the three send destinations SendMessage
// supports.
type targetKind int

const (
	targetOne targetKind = iota
	targetAll
	targetChannel
)

// Target selects which channel(s) SendMessage enqueues an envelope onto.
type Target struct {
	kind      targetKind
	channelID uuid.UUID
}

// TargetOne picks a uniformly random currently-connected channel.
var TargetOne = Target{kind: targetOne}

// TargetAll fans out to every currently-connected channel.
var TargetAll = Target{kind: targetAll}

// TargetChannel sends only on the given channel.
func TargetChannel(id uuid.UUID) Target {
	return Target{kind: targetChannel, channelID: id}
}

// Delivery pairs a received envelope with the channel it arrived on.
type Delivery struct {
	Envelope *wire.Envelope
	Channel  *channel.Channel
}
