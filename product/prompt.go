/*
prompt.go - Prompt construction for the vision model

PURPOSE:
  Builds the system and user prompts sent with the product photos. The
  model is instructed to answer with one JSON object matching Sheet;
  vision/ is responsible for stripping markdown fences before decoding.
*/
package product

import (
	"fmt"
	"strings"
)

var toneLabels = map[Tone]string{
	ToneProfessionnel: "professionnel et sobre",
	ToneSensuel:       "sensuel et séduisant",
	ToneDecontracte:   "décontracté et accessible",
	ToneLuxe:          "haut de gamme et luxueux",
	TonePersonnalise:  "personnalisé",
}

// SystemPrompt is the fixed instruction for sheet generation.
const SystemPrompt = `Tu es un expert en rédaction de fiches produit e-commerce.
Tu génères des fiches complètes, optimisées SEO, en français.
Tu réponds UNIQUEMENT en JSON valide, sans markdown ni texte avant/après.`

// UserPrompt renders the per-request instruction for the vision model.
func UserPrompt(req SheetRequest) string {
	var b strings.Builder

	b.WriteString("Analyse cette/ces photo(s) de produit et génère une fiche produit complète.\n\n")
	b.WriteString("Informations fournies :\n")
	fmt.Fprintf(&b, "- Nom du produit : %s\n", req.Name)
	fmt.Fprintf(&b, "- Catégorie : %s\n", req.Category)
	if req.Price != nil {
		fmt.Fprintf(&b, "- Prix : %s€\n", req.Price.String())
	}
	if req.Notes != "" {
		fmt.Fprintf(&b, "- Notes : %s\n", req.Notes)
	}
	label, ok := toneLabels[req.Tone]
	if !ok {
		label = toneLabels[ToneProfessionnel]
	}
	fmt.Fprintf(&b, "- Ton souhaité : %s\n", label)

	b.WriteString(`
Génère un JSON avec cette structure exacte :
{
  "title": "Titre optimisé SEO (60-80 caractères)",
  "description": "Description complète et engageante (150-300 mots). Utilise le ton demandé. Inclus les bénéfices, l'usage et les détails visuels observés sur la photo.",
  "characteristics": {
    "Matière": "...",
    "Couleur": "...",
    "Taille": "..."
  },
  "attributes": {
    "couleur_principale": "...",
    "matiere": "...",
    "style": "..."
  }
}

Règles :
- "characteristics" : 5 à 10 caractéristiques visibles et pertinentes pour un acheteur
- "attributes" : attributs techniques bruts extraits de la photo (couleurs, formes, textures)
- La description doit être unique, pas générique
- Adapte le vocabulaire au ton demandé
- N'invente pas de caractéristiques non visibles sur la photo`)

	return b.String()
}
