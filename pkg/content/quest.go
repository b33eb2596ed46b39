package content

// QuestContent is the structured reply for KindQuest.
type QuestContent struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"` // HTML
	ImageGenerationPrompt string   `json:"imageGenerationPrompt"`
	Objectives            []string `json:"objectives"`
	Rewards               []string `json:"rewards"`
}

// PuzzleContent is the structured reply for KindPuzzle.
type PuzzleContent struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"` // HTML
	ImageGenerationPrompt string   `json:"imageGenerationPrompt"`
	Solution              string   `json:"solution"`
	Hints                 []string `json:"hints"`
	FailureConsequence    string   `json:"failureConsequence"`
	Reward                string   `json:"reward"`
}
