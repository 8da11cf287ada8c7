package utils

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

var (
	roomAdjectives = []string{"quick", "happy", "bright", "calm", "warm", "cool", "smart", "neat"}
	roomNouns      = []string{"room", "board", "space", "meet", "talk", "work", "team", "sync"}

	participantColors = []string{
		"#ef4444", "#f59e0b", "#10b981", "#3b82f6",
		"#8b5cf6", "#ec4899", "#06b6d4", "#84cc16",
	}
)

// GenerateID returns prefix-<uuid>.
func GenerateID(prefix string) string {
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func GenerateParticipantID() string {
	return GenerateID("user")
}

// GenerateObjectID derives the prefix from the object type.
func GenerateObjectID(objectType string) string {
	prefix := strings.Join(strings.Fields(strings.ToLower(objectType)), "-")
	return GenerateID(prefix)
}

// GenerateTemporaryID names a connection before the remote participant is known.
func GenerateTemporaryID() string {
	return GenerateID("peer")
}

// GenerateRoomID returns a human friendly adjective-noun-NNNN id.
func GenerateRoomID() string {
	adj := roomAdjectives[rand.Intn(len(roomAdjectives))]
	noun := roomNouns[rand.Intn(len(roomNouns))]
	return fmt.Sprintf("%s-%s-%d", adj, noun, rand.Intn(9999))
}

func GenerateDisplayName() string {
	return fmt.Sprintf("User%d", rand.Intn(9999))
}

func GenerateColor() string {
	return participantColors[rand.Intn(len(participantColors))]
}
