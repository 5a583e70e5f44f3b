package models

import (
	"fmt"
	"strings"
)

type OwnerKind string

const (
	OwnerFrame          OwnerKind = "frame"
	OwnerProfilePicture OwnerKind = "profile_picture"
	OwnerGallery        OwnerKind = "gallery"
	OwnerUser           OwnerKind = "user"
)

// HoldsPictures reports whether pictures reference this kind directly.
// Galleries and users own pictures only through frames and profile pictures.
func (k OwnerKind) HoldsPictures() bool {
	return k == OwnerFrame || k == OwnerProfilePicture
}

func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerFrame, OwnerProfilePicture, OwnerGallery, OwnerUser:
		return true
	}
	return false
}

type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o OwnerRef) String() string {
	return string(o.Kind) + ":" + o.ID
}

// ParseOwnerRef parses the "kind:id" form produced by OwnerRef.String.
func ParseOwnerRef(s string) (OwnerRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return OwnerRef{}, fmt.Errorf("invalid owner reference %q", s)
	}
	ref := OwnerRef{Kind: OwnerKind(kind), ID: id}
	if !ref.Kind.Valid() {
		return OwnerRef{}, fmt.Errorf("unknown owner kind %q", kind)
	}
	return ref, nil
}

// Owner is a resolved owner: it exists, and UserID is the account that
// pictures uploaded into it are attributed to.
type Owner struct {
	Ref    OwnerRef
	UserID string
}
