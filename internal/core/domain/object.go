package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ObjectID string

type RoomID string

// Collection names one of the replicated object sets.
type Collection string

const (
	CollectionObjects  Collection = "objects"
	CollectionStickies Collection = "stickies"
)

func (c Collection) Valid() bool {
	return c == CollectionObjects || c == CollectionStickies
}

// OrDefault maps the empty collection to objects.
func (c Collection) OrDefault() Collection {
	if c == "" {
		return CollectionObjects
	}
	return c
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Object is a drawable element of the board. Fields other than the
// well-known ones are kept verbatim in Props so they survive replication.
type Object struct {
	ID     ObjectID
	Type   string
	RoomID RoomID
	Points []Point
	Props  map[string]json.RawMessage
}

const (
	fieldID     = "id"
	fieldType   = "type"
	fieldRoomID = "roomId"
	fieldPoints = "points"
)

func (o Object) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.Props)+4)
	for k, v := range o.Props {
		out[k] = v
	}

	var err error
	if out[fieldID], err = json.Marshal(o.ID); err != nil {
		return nil, err
	}
	if o.Type != "" {
		if out[fieldType], err = json.Marshal(o.Type); err != nil {
			return nil, err
		}
	}
	if o.RoomID != "" {
		if out[fieldRoomID], err = json.Marshal(o.RoomID); err != nil {
			return nil, err
		}
	}
	if o.Points != nil {
		if out[fieldPoints], err = json.Marshal(o.Points); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	obj := Object{Props: make(map[string]json.RawMessage)}
	if err := obj.apply(raw, true); err != nil {
		return err
	}
	*o = obj
	return nil
}

// Merge applies a shallow field update. The id is never changed.
// On error the object is left untouched.
func (o *Object) Merge(updates map[string]json.RawMessage) error {
	next := o.Clone()
	if err := next.apply(updates, false); err != nil {
		return err
	}
	*o = *next
	return nil
}

func (o *Object) apply(fields map[string]json.RawMessage, withID bool) error {
	for k, v := range fields {
		switch k {
		case fieldID:
			if !withID {
				continue
			}
			if err := json.Unmarshal(v, &o.ID); err != nil {
				return fmt.Errorf("%w: id: %v", ErrInvalidObject, err)
			}
		case fieldType:
			if err := json.Unmarshal(v, &o.Type); err != nil {
				return fmt.Errorf("%w: type: %v", ErrInvalidObject, err)
			}
		case fieldRoomID:
			if err := json.Unmarshal(v, &o.RoomID); err != nil {
				return fmt.Errorf("%w: roomId: %v", ErrInvalidObject, err)
			}
		case fieldPoints:
			var pts []Point
			if err := json.Unmarshal(v, &pts); err != nil {
				return fmt.Errorf("%w: points: %v", ErrInvalidObject, err)
			}
			o.Points = pts
		default:
			if o.Props == nil {
				o.Props = make(map[string]json.RawMessage)
			}
			o.Props[k] = append(json.RawMessage(nil), v...)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{
		ID:     o.ID,
		Type:   o.Type,
		RoomID: o.RoomID,
	}
	if o.Points != nil {
		c.Points = append([]Point(nil), o.Points...)
	}
	if o.Props != nil {
		c.Props = make(map[string]json.RawMessage, len(o.Props))
		for k, v := range o.Props {
			c.Props[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Room carries the metadata persisted for a board.
type Room struct {
	ID           RoomID    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// RoomExport is the portable JSON form of a room.
type RoomExport struct {
	Version     string    `json:"version"`
	RoomID      RoomID    `json:"roomId"`
	CreatedAt   time.Time `json:"createdAt"`
	ExportedAt  time.Time `json:"exportedAt"`
	Objects     []*Object `json:"objects"`
	Stickies    []*Object `json:"stickies"`
	ObjectCount int       `json:"objectCount"`
}
