package pipeline

import "github.com/easeaico/project-kairos/internal/types"

var transitions = map[types.MessageStatus][]types.MessageStatus{
	types.StatusLocalCreated:   {types.StatusUploadingMedia, types.StatusProcessingAI},
	types.StatusUploadingMedia: {types.StatusMediaUploaded, types.StatusFailed},
	types.StatusMediaUploaded:  {types.StatusProcessingAI, types.StatusFailed},
	types.StatusProcessingAI:   {types.StatusProcessed, types.StatusFailed},
	// retry reset
	types.StatusFailed: {types.StatusLocalCreated, types.StatusMediaUploaded},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to types.MessageStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s, failed excluded.
func Terminal(s types.MessageStatus) bool {
	return len(transitions[s]) == 0
}

// generatable lists the statuses a reply can start from.
func generatable(s types.MessageStatus) bool {
	return s == types.StatusLocalCreated || s == types.StatusMediaUploaded
}
