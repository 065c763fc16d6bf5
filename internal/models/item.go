package models

import (
	"time"

	"gorm.io/datatypes"
)

type ItemType string

const (
	TypeText     ItemType = "text"
	TypeURL      ItemType = "url"
	TypeFile     ItemType = "file"
	TypeImage    ItemType = "image"
	TypeVideo    ItemType = "video"
	TypeDocument ItemType = "document"
)

// FileLike reports whether items of this type are backed by stored bytes.
func (t ItemType) FileLike() bool {
	switch t {
	case TypeFile, TypeImage, TypeVideo, TypeDocument:
		return true
	}
	return false
}

// Refine returns the type an item should carry after enrichment discovered next.
// A type is only ever made more specific: file may become image, video or
// document, and nothing is turned back into text, url or file.
func (t ItemType) Refine(next ItemType) ItemType {
	if next == "" || next == t {
		return t
	}
	switch t {
	case TypeFile:
		if next == TypeImage || next == TypeVideo || next == TypeDocument {
			return next
		}
	case TypeURL:
		if next.FileLike() {
			return next
		}
	}
	return t
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	MaxTitleLength       = 360
	MaxDescriptionLength = 360
)

type Item struct {
	ID             string         `gorm:"primaryKey;size:26" json:"id"`
	UserID         string         `gorm:"size:255;not null;index:idx_item_user_dedup,unique,priority:1;index:idx_item_user_updated,priority:1" json:"userId"`
	DedupKey       string         `gorm:"size:64;not null;index:idx_item_user_dedup,unique,priority:2" json:"-"`
	Content        string         `gorm:"type:text" json:"content"`
	URL            *string        `gorm:"size:4096" json:"url"`
	Type           ItemType       `gorm:"size:16;not null" json:"type"`
	Title          string         `gorm:"size:360" json:"title"`
	Description    string         `gorm:"size:360" json:"description"`
	ThumbnailURL   string         `gorm:"size:4096" json:"thumbnailUrl"`
	FaviconURL     string         `gorm:"size:4096" json:"faviconUrl"`
	Status         Status         `gorm:"size:16;not null;index" json:"status"`
	StatusMessage  string         `gorm:"size:512" json:"statusMessage,omitempty"`
	MetadataID     *string        `gorm:"size:36;index" json:"metadataId"`
	Tags           datatypes.JSON `gorm:"type:json" json:"tags"`
	FileMetadata   datatypes.JSON `gorm:"type:json" json:"fileMetadata"`
	IsFavorite     bool           `gorm:"not null;default:false" json:"isFavorite"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"index:idx_item_user_updated,priority:2" json:"updatedAt"`
	LastAccessedAt *time.Time     `json:"lastAccessedAt"`
}

// URLValue returns the item URL or an empty string.
func (i Item) URLValue() string {
	if i.URL == nil {
		return ""
	}
	return *i.URL
}

type ItemTags struct {
	Author    string `json:"author,omitempty"`
	Language  string `json:"language,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	SiteName  string `json:"siteName,omitempty"`
}

func (t ItemTags) Empty() bool {
	return t == ItemTags{}
}
