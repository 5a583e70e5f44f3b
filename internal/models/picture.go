package models

import "time"

type Picture struct {
	ID              string
	Owner           OwnerRef
	OrderingIndex   int
	IsCurrent       bool
	OriginalImageID string
	CroppedImageID  string
	PendingImageID  string
	CreatedAt       time.Time

	// Images is populated by reads that join the image rows.
	Images map[Variant]Image
}

func (p Picture) ImageIDs() []string {
	return []string{p.OriginalImageID, p.CroppedImageID, p.PendingImageID}
}

// ImageID returns the id of the image registered for v.
func (p Picture) ImageID(v Variant) string {
	switch v {
	case VariantOriginal:
		return p.OriginalImageID
	case VariantCropped:
		return p.CroppedImageID
	case VariantPending:
		return p.PendingImageID
	}
	return ""
}

// Locators returns the blob locations of the joined images.
func (p Picture) Locators() []Locator {
	locators := make([]Locator, 0, len(p.Images))
	for _, v := range Variants {
		if img, ok := p.Images[v]; ok {
			locators = append(locators, img.Locator())
		}
	}
	return locators
}

// Handle is a time-limited readable URL for one blob. Usable is false when
// signing failed; URL and ExpiresAt are then empty.
type Handle struct {
	Usable    bool
	URL       string
	ExpiresAt time.Time
}

// SignedImage is an image row together with its access handle.
type SignedImage struct {
	Image  Image
	Handle Handle
}

// PictureView is a Picture whose three images all carry usable handles.
type PictureView struct {
	Picture Picture
	Images  map[Variant]SignedImage
}
