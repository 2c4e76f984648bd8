package scraper

// Locators are the CSS selectors used to read the marketplace's pages. They are
// configurable because the site changes its markup without notice.
type Locators struct {
	// Results page
	Item           string `yaml:"item"`
	SponsoredClass string `yaml:"sponsored_class"`
	IDAttr         string `yaml:"id_attr"`
	Title          string `yaml:"title"`
	Description    string `yaml:"description"`
	Link           string `yaml:"link"`
	Price          string `yaml:"price"`
	OtherGeo       string `yaml:"other_geo"`

	// Detail page
	TotalViews  string `yaml:"total_views"`
	PublishedAt string `yaml:"published_at"`
	Seller      string `yaml:"seller"`
	Geo         string `yaml:"geo"`
}

// DefaultLocators returns the selectors for the current marketplace layout
func DefaultLocators() Locators {
	return Locators{
		Item:           `[data-marker="catalog-serp"] [data-marker="item"]`,
		SponsoredClass: "avitoSales",
		IDAttr:         "data-item-id",
		Title:          `[itemprop="name"]`,
		Description:    `[class*="item-description"]`,
		Link:           `a[data-marker="item-title"]`,
		Price:          `meta[itemprop="price"]`,
		OtherGeo:       `[class*="items-extraTitle"]`,

		TotalViews:  `[data-marker="item-view/total-views"]`,
		PublishedAt: `[data-marker="item-view/item-date"]`,
		Seller:      `[data-marker="seller-info/name"]`,
		Geo:         `[itemprop="address"]`,
	}
}

// WithDefaults fills every empty selector from DefaultLocators
func (l Locators) WithDefaults() Locators {
	d := DefaultLocators()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Locators{
		Item:           pick(l.Item, d.Item),
		SponsoredClass: pick(l.SponsoredClass, d.SponsoredClass),
		IDAttr:         pick(l.IDAttr, d.IDAttr),
		Title:          pick(l.Title, d.Title),
		Description:    pick(l.Description, d.Description),
		Link:           pick(l.Link, d.Link),
		Price:          pick(l.Price, d.Price),
		OtherGeo:       pick(l.OtherGeo, d.OtherGeo),
		TotalViews:     pick(l.TotalViews, d.TotalViews),
		PublishedAt:    pick(l.PublishedAt, d.PublishedAt),
		Seller:         pick(l.Seller, d.Seller),
		Geo:            pick(l.Geo, d.Geo),
	}
}
