package models

const (
	ThinkTag  = `(?s)<think>.*?</think>`
	CodeFence = "(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$"

	CandidateLineTemplate = "Fragment %d - Strona %d: %s\n"
	PreviewEllipsis       = "..."

	RefineSystemPrompt = "Jesteś ekspertem prawnym."
)

// RequiredRefinedKeys lists the keys every object of a refinement response must carry.
var RequiredRefinedKeys = []string{"page_num", "text", "explanation", "score", "relevant"}

var (
	// RefinePromptTemplate takes the query and the rendered candidate list.
	RefinePromptTemplate = `Jesteś ekspertem prawnym. Otrzymałeś zapytanie prawne oraz listę fragmentów wyekstrahowanych z dokumentu.
Twoim zadaniem jest:
1. Ocenić każdy przedstawiony fragment pod kątem relewantności do poniższego zapytania.
2. Dla fragmentów, które są relewantne (tj. osiągną wynik powyżej 50%%), osadź je w pełnych, spójnych zdaniach, aby zapewnić pełny kontekst (podaj zdania otaczające oryginalny fragment).
3. Napisz krótkie wyjaśnienie (1–2 zdania) dlaczego dany fragment jest istotny.
4. Przypisz fragmentowi wynik relewantności jako ciąg procentowy (np. "75%%"). **Pomiń fragmenty, które osiągną wynik 50%% lub poniżej.**
5. Oznacz każdy fragment wartością logiczną: true, jeśli jest istotny (wynik >50%%), lub false w przeciwnym przypadku.

Zwróć wynik wyłącznie jako tablicę JSON, w której każdy obiekt ma dokładnie te klucze:
"page_num" – numer strony,
"text" – pełny tekst fragmentu osadzony w kontekście (pełne zdania otaczające dany fragment),
"explanation" – krótkie wyjaśnienie relewantności,
"score" – wynik jako ciąg procentowy (np. "75%%"),
"relevant" – wartość logiczna (true lub false).

Zapytanie prawne: "%s"

Fragmenty kandydackie:
%s
Upewnij się, że wynik jest poprawnym JSONem i NIE zawiera dodatkowego tekstu.
`
)
