package planogram

import (
	"encoding/json"

	"github.com/vendkit/kioskd/pkg/models"
)

// Wire shapes of the cloud planogram and catalog payloads.

type planogramResponse struct {
	Planogram struct {
		Stocks []stockData `json:"stocks"`
	} `json:"planogram"`
	Collections []collectionData `json:"collections"`
	Products    []productData    `json:"products"`
	UIModel     map[string]any   `json:"uiModel"`
}

type stockData struct {
	Number int        `json:"number"`
	Trays  []trayData `json:"trays"`
}

type trayData struct {
	Number int        `json:"number"`
	Slots  []slotData `json:"slots"`
}

type slotData struct {
	Number    int   `json:"number"`
	Width     int   `json:"width"`
	Depth     int   `json:"depth"`
	VariantID int64 `json:"variantId"`
}

type imageData struct {
	URL        string `json:"url"`
	LastUpdate int64  `json:"last_update"`
}

type propertyData struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type localizationData struct {
	Language    string         `json:"language"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  []propertyData `json:"properties"`
}

type collectionData struct {
	ID           int64              `json:"id"`
	LastUpdate   int64              `json:"last_update"`
	Image        imageData          `json:"image"`
	Localization []localizationData `json:"localization"`
	Products     []int64            `json:"products"`
}

type optionData struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type variantData struct {
	ID           int64              `json:"id"`
	Price        int64              `json:"price"`
	PriceCmp     int64              `json:"price_cmp"`
	PriceFmt     string             `json:"price_fmt"`
	PriceCmpFmt  string             `json:"price_cmp_fmt"`
	Deleted      bool               `json:"deleted"`
	LastUpdate   int64              `json:"last_update"`
	Image        imageData          `json:"image"`
	Localization []localizationData `json:"localization"`
	Options      []optionData       `json:"options"`
}

type productData struct {
	ID           int64              `json:"id"`
	LastUpdate   int64              `json:"last_update"`
	ProductType  string             `json:"product_type"`
	Tags         []string           `json:"tags"`
	Localization []localizationData `json:"localization"`
	Variants     []variantData      `json:"variants"`
}

// Staged entities carry the cloud image reference alongside the model so the
// commit pass can decide whether a download is needed.

type stagedProduct struct {
	product models.Product
}

type stagedCollection struct {
	collection models.Collection
	image      imageData
}

type stagedVariant struct {
	variant models.Variant
	image   imageData
}

// decode re-marshals a generic JSON object into a typed struct.
func decode(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func localizedName(locs []localizationData) models.LocalizedText {
	out := make(models.LocalizedText, len(locs))
	for _, loc := range locs {
		out[loc.Language] = loc.Name
	}
	return out
}

func localizedDescription(locs []localizationData) models.LocalizedText {
	out := make(models.LocalizedText, len(locs))
	for _, loc := range locs {
		out[loc.Language] = loc.Description
	}
	return out
}

func localizedProperties(locs []localizationData) models.LocalizedProps {
	out := make(models.LocalizedProps, len(locs))
	for _, loc := range locs {
		if len(loc.Properties) == 0 {
			continue
		}
		props := make(map[string]string, len(loc.Properties))
		for _, p := range loc.Properties {
			props[p.Name] = p.Value
		}
		out[loc.Language] = props
	}
	return out
}

func toProduct(data productData) models.Product {
	variantIDs := make([]int64, 0, len(data.Variants))
	for _, v := range data.Variants {
		variantIDs = append(variantIDs, v.ID)
	}
	return models.Product{
		ID:          data.ID,
		LastUpdate:  data.LastUpdate,
		Type:        data.ProductType,
		Tags:        data.Tags,
		Name:        localizedName(data.Localization),
		Description: localizedDescription(data.Localization),
		Properties:  localizedProperties(data.Localization),
		VariantIDs:  variantIDs,
	}
}

func toVariant(productID int64, data variantData) models.Variant {
	options := make([]models.VariantOption, 0, len(data.Options))
	for _, opt := range data.Options {
		options = append(options, models.VariantOption{Name: opt.Type, Value: opt.Value})
	}
	return models.Variant{
		ID:                    data.ID,
		ProductID:             productID,
		Price:                 data.Price,
		ComparePrice:          data.PriceCmp,
		PriceFormatted:        data.PriceFmt,
		ComparePriceFormatted: data.PriceCmpFmt,
		Deleted:               data.Deleted,
		Name:                  localizedName(data.Localization),
		Properties:            localizedProperties(data.Localization),
		Options:               options,
	}
}

func toCollection(data collectionData) models.Collection {
	return models.Collection{
		ID:          data.ID,
		LastUpdate:  data.LastUpdate,
		Name:        localizedName(data.Localization),
		Description: localizedDescription(data.Localization),
		ProductIDs:  data.Products,
	}
}
