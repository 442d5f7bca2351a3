package models

import "github.com/dmitrijs2005/notesync/internal/proto"

// ToProto converts to the wire shape. The owner is implied by the
// authenticated caller and is not sent.
func (n *Note) ToProto() *proto.Note {
	if n == nil {
		return nil
	}
	c := n.Clone()
	return &proto.Note{
		ID:        c.ID,
		Title:     c.Title,
		Body:      c.Body,
		Version:   c.Version,
		UpdatedAt: c.UpdatedAt,
		DeletedAt: c.DeletedAt,
	}
}

func NotesToProto(notes []*Note) []*proto.Note {
	out := make([]*proto.Note, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ToProto())
	}
	return out
}

func (s *DeviceSession) ToProto() proto.Device {
	return proto.Device{
		DeviceID:  s.DeviceID,
		ChannelID: s.ChannelID,
		Meta:      s.Meta,
		LastSeen:  s.LastSeen,
	}
}
