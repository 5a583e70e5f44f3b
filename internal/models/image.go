package models

import "time"

type Variant string

const (
	VariantOriginal Variant = "original"
	VariantCropped  Variant = "cropped"
	VariantPending  Variant = "pending"
)

// Variants lists every rendition derived from one upload, in storage order.
var Variants = []Variant{VariantOriginal, VariantCropped, VariantPending}

// Locator addresses one blob in the object store.
type Locator struct {
	Bucket string
	Key    string
}

func (l Locator) String() string {
	return l.Bucket + "/" + l.Key
}

type Image struct {
	ID         string
	Bucket     string
	ObjectKey  string
	Format     string
	Width      int
	Height     int
	SizeBytes  int64
	Checksum   []byte
	UploaderID string
	CreatedAt  time.Time
}

func (i Image) Locator() Locator {
	return Locator{Bucket: i.Bucket, Key: i.ObjectKey}
}
