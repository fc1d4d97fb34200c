package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditRecord captures one control-plane action. Exactly one record is
// written per accepted start/stop/pause/resume/command/settings request.
type AuditRecord struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Action    string                 `bson:"action" json:"action"`
	Actor     string                 `bson:"actor" json:"actor"`
	Params    map[string]interface{} `bson:"params,omitempty" json:"params,omitempty"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
}
