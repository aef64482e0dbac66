package controlplane

import "github.com/zenith-fleet/zenith/internal/zevent"

func eventFromRequest(req *PublishEventRequest) zevent.Event {
	return zevent.Event{
		Header: zevent.EventHeader{
			SourceID: req.SourceID,
			SeqNo:    req.SeqNo,
		},
		Payload: req.Payload,
	}
}
