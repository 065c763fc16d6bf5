package models

import (
	"time"

	"gorm.io/datatypes"
)

// Metadata is the cross-user cache row for one canonical URL.
type Metadata struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	URLHash     string         `gorm:"size:64;not null;uniqueIndex" json:"-"`
	StrippedURL string         `gorm:"size:4096;not null" json:"strippedUrl"`
	Metadata    datatypes.JSON `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func (Metadata) TableName() string {
	return "metadata"
}

type MetadataBlob struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Author      string `json:"author,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Lang        string `json:"lang,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Type        string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Usable reports whether the blob carries enough to render a card.
func (b MetadataBlob) Usable() bool {
	return b.Title != "" || b.Description != "" || b.Image != ""
}

// Merge fills the empty fields of b from fresh. Fields b already has are kept.
func (b MetadataBlob) Merge(fresh MetadataBlob) MetadataBlob {
	out := b
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&out.Title, fresh.Title)
	fill(&out.Description, fresh.Description)
	fill(&out.Image, fresh.Image)
	fill(&out.Logo, fresh.Logo)
	fill(&out.Author, fresh.Author)
	fill(&out.Publisher, fresh.Publisher)
	fill(&out.Lang, fresh.Lang)
	fill(&out.SiteName, fresh.SiteName)
	fill(&out.Type, fresh.Type)
	fill(&out.URL, fresh.URL)
	return out
}
