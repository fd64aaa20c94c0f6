package diagnosis

// Checklist rules
//
// The checklist is presentational: each row is lit or dimmed, and the species
// columns are dimmed unless the diagnosis label names that species. The label
// itself comes from the analysis service and is never rewritten here.
//
//   P. falciparum  chromatin   label contains "falciparum"
//                  appliqué    label contains "falciparum"
//   P. vivax       schüffner   label contains "vivax"
//                  enlarged    any size item has status Enlarged
//                  amoeboid    amoeboid count > 0 OR label contains "vivax"
//   P. malariae    smaller     label contains "malariae"
//                  band form   any cell is "band form"
//                  basket form any cell is "basket form"
//
// Label matching is case-sensitive against the lower-case species token the
// service emits. The enlarged and amoeboid rows are not species-filtered; a
// sample of another species can light them. Keep the table as is until the
// product owners decide otherwise.

import (
	"strings"

	"mala-sight/models"
)

// Species tokens as emitted inside the overall diagnosis label.
const (
	SpeciesFalciparum = "falciparum"
	SpeciesVivax      = "vivax"
	SpeciesMalariae   = "malariae"
)

// Species lists the checklist columns in display order.
var Species = []string{SpeciesFalciparum, SpeciesVivax, SpeciesMalariae}

// Flags is the eight-row diagnostic checklist.
type Flags struct {
	Chromatin  bool `json:"chromatin"`
	Applique   bool `json:"applique"`
	Schuffner  bool `json:"schuffner"`
	Enlarged   bool `json:"enlarged"`
	Amoeboid   bool `json:"amoeboid"`
	Smaller    bool `json:"smaller"`
	BandForm   bool `json:"bandForm"`
	BasketForm bool `json:"basketForm"`
}

// SpeciesPresent records which species the label names. Columns for absent
// species are dimmed.
type SpeciesPresent struct {
	Falciparum bool `json:"falciparum"`
	Vivax      bool `json:"vivax"`
	Malariae   bool `json:"malariae"`
}

// DetectSpecies matches the species tokens against the diagnosis label.
func DetectSpecies(label string) SpeciesPresent {
	return SpeciesPresent{
		Falciparum: strings.Contains(label, SpeciesFalciparum),
		Vivax:      strings.Contains(label, SpeciesVivax),
		Malariae:   strings.Contains(label, SpeciesMalariae),
	}
}

// DeriveFlags evaluates the checklist for a result. Flags are always recomputed
// from the result and never stored on their own.
func DeriveFlags(res *models.AnalysisResult, n Normalized) Flags {
	var label string
	var amoeboidCount int
	if res != nil {
		label = res.OverallDiagnosis
		amoeboidCount = res.AmoeboidCount
	}
	sp := DetectSpecies(label)

	return Flags{
		Chromatin:  sp.Falciparum,
		Applique:   sp.Falciparum,
		Schuffner:  sp.Vivax,
		Enlarged:   AnyEnlarged(n.SizeData),
		Amoeboid:   amoeboidCount > 0 || sp.Vivax,
		Smaller:    sp.Malariae,
		BandForm:   hasCharacteristic(n.AllCells, models.CharacteristicBandForm),
		BasketForm: hasCharacteristic(n.AllCells, models.CharacteristicBasketForm),
	}
}

// ColorClass names the colour used for the diagnosis headline. Falciparum wins
// over vivax, vivax over malariae.
func (sp SpeciesPresent) ColorClass() string {
	switch {
	case sp.Falciparum:
		return SpeciesFalciparum
	case sp.Vivax:
		return SpeciesVivax
	case sp.Malariae:
		return SpeciesMalariae
	default:
		return "none"
	}
}

// GuideRoutes returns the treatment guide routes for every species in the label.
func (sp SpeciesPresent) GuideRoutes() []string {
	routes := []string{}
	if sp.Falciparum {
		routes = append(routes, GuideRoute(SpeciesFalciparum))
	}
	if sp.Vivax {
		routes = append(routes, GuideRoute(SpeciesVivax))
	}
	if sp.Malariae {
		routes = append(routes, GuideRoute(SpeciesMalariae))
	}
	return routes
}

// GuideRoute is the navigation target of a species treatment guide.
func GuideRoute(species string) string {
	return "/medication-guide/" + species
}

func hasCharacteristic(cells []models.Cell, characteristic string) bool {
	for _, cell := range cells {
		if cell.Characteristic == characteristic {
			return true
		}
	}
	return false
}
