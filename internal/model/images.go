package model

// ImageSlot names a position in the generated image sequence.
type ImageSlot string

const (
	SlotFeatured ImageSlot = "featured" // 1200x630
	SlotHero     ImageSlot = "hero"     // 16:9
	SlotContent1 ImageSlot = "content_1"
	SlotContent2 ImageSlot = "content_2"
	SlotContent3 ImageSlot = "content_3"
	SlotContent4 ImageSlot = "content_4"
	SlotContent5 ImageSlot = "content_5"
)

// ArticleImageSlots is the full 7-slot sequence in generation order.
var ArticleImageSlots = []ImageSlot{
	SlotFeatured, SlotHero,
	SlotContent1, SlotContent2, SlotContent3, SlotContent4, SlotContent5,
}

// CompanyImageSlots is the reduced sequence used by the company pipeline.
var CompanyImageSlots = []ImageSlot{SlotFeatured, SlotHero}

// ContentSlotIndex returns the 1-based content index for content slots,
// or 0 for featured/hero.
func ContentSlotIndex(slot ImageSlot) int {
	switch slot {
	case SlotContent1:
		return 1
	case SlotContent2:
		return 2
	case SlotContent3:
		return 3
	case SlotContent4:
		return 4
	case SlotContent5:
		return 5
	}
	return 0
}

// Aspect returns the aspect-ratio string requested for the slot.
func (s ImageSlot) Aspect() string {
	switch s {
	case SlotFeatured:
		return "1200x630"
	case SlotHero:
		return "16:9"
	default:
		return "4:3"
	}
}

// ImageRecord describes one generated image.
type ImageRecord struct {
	URL           string `json:"url"`
	Alt           string `json:"alt"`
	Description   string `json:"description"`
	Title         string `json:"title"`
	SourceSection *int   `json:"source_section_index,omitempty"`
}

// ImageBundle holds the per-slot results of an image sequence. Slots that
// failed generation are nil.
type ImageBundle struct {
	Featured *ImageRecord    `json:"featured,omitempty"`
	Hero     *ImageRecord    `json:"hero,omitempty"`
	Content  [5]*ImageRecord `json:"content,omitempty"`
}

// Get returns the record for a slot, or nil.
func (b *ImageBundle) Get(slot ImageSlot) *ImageRecord {
	switch slot {
	case SlotFeatured:
		return b.Featured
	case SlotHero:
		return b.Hero
	default:
		if i := ContentSlotIndex(slot); i > 0 {
			return b.Content[i-1]
		}
	}
	return nil
}

// Set stores the record for a slot.
func (b *ImageBundle) Set(slot ImageSlot, rec *ImageRecord) {
	switch slot {
	case SlotFeatured:
		b.Featured = rec
	case SlotHero:
		b.Hero = rec
	default:
		if i := ContentSlotIndex(slot); i > 0 {
			b.Content[i-1] = rec
		}
	}
}

// HasContent reports whether the 1-based content image exists.
func (b *ImageBundle) HasContent(idx int) bool {
	return idx >= 1 && idx <= 5 && b.Content[idx-1] != nil
}

// Count returns the number of populated slots.
func (b *ImageBundle) Count() int {
	n := 0
	if b.Featured != nil {
		n++
	}
	if b.Hero != nil {
		n++
	}
	for _, c := range b.Content {
		if c != nil {
			n++
		}
	}
	return n
}
