package content

// ItemContent is the structured reply for KindItem.
type ItemContent struct {
	Name                  string `json:"name"`
	Description           string `json:"description"`
	ImageGenerationPrompt string `json:"imageGenerationPrompt"`
	Type                  string `json:"type"`   // weapon, equipment, consumable, tool, loot
	Rarity                string `json:"rarity"` // common .. artifact
	Price                 int    `json:"price"`  // gold pieces
	Weight                int    `json:"weight"`
	Effect                string `json:"effect"`
}

// SceneContent is the structured reply for KindBackground and KindTile:
// a battle-map background or a single map tile sprite.
type SceneContent struct {
	Name                  string `json:"name"`
	Description           string `json:"description"`
	ImageGenerationPrompt string `json:"imageGenerationPrompt"`
	Width                 int    `json:"width"`  // grid squares
	Height                int    `json:"height"` // grid squares
}
