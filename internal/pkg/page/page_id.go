package page

// PageID identifies a page's logical position in a page file. Page numbers
// start at 1; zero is never a valid PageID, it is reserved as the
// MaybePageID "no page" sentinel. Allocation of identifiers belongs to the
// pager, not to this type.
type PageID uint64

// MaybePageID is a nullable PageID with 0 encoding "no page". It is the
// in-memory form of the header's overflow-link field.
type MaybePageID uint64

// NoPage is the absent-page sentinel.
const NoPage MaybePageID = 0

// SomePage wraps a PageID into its nullable form.
func SomePage(id PageID) MaybePageID {
	return MaybePageID(id)
}

// Get unwraps the nullable identifier, reporting whether a page is present.
func (m MaybePageID) Get() (PageID, bool) {
	if m == NoPage {
		return 0, false
	}
	return PageID(m), true
}
