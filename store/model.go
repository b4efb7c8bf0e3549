package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BuildRecord is the metadata document inserted once per upload run.
type BuildRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Stage       string             `bson:"stage" json:"stage"`
	ResultsPath string             `bson:"results_path" json:"results_path"`
}

// BlobInfo describes one GridFS file. Several BlobInfo values may share a
// Filename; each upload is a new revision.
type BlobInfo struct {
	ID         primitive.ObjectID `bson:"_id" json:"id"`
	Filename   string             `bson:"filename" json:"filename"`
	Length     int64              `bson:"length" json:"length"`
	UploadDate time.Time          `bson:"uploadDate" json:"upload_date"`
}
