package extractor

import (
	"fmt"
	"strings"

	"github.com/duckmemory/duckmem/internal/store"
)

const systemPrompt = "Du er en memory extraction assistent. Returner kun valid JSON."

const resultShape = `{
  "profile_facts": [{"key": "father_name", "value": "Arvid", "topic": "family", "confidence": 1.0, "source": "user"}],
  "memories": [{"text": "Osmund planlegger tur til Sokndal i helgen", "topic": "location", "importance": 3, "confidence": 0.9}],
  "topics": ["family", "location"],
  "importance": 3
}`

const conversationRules = `Identifiser og ekstraher:

1. profile_facts: fakta brukeren eksplisitt sier om seg selv eller familien. Ikke anta eller infer.
   - Ett familiemedlem per key-prefiks: father_name, mother_name, sister_1_name, sister_2_name, brother_1_name.
   - Attributter arver prefikset: sister_1_birthday (DD-MM), father_birth_year (YYYY), father_location.
   - Barn til søsken: sister_2_child_1_name. Antall: sibling_count, sister_1_children_count.
   - Samlinger og hobbyer skal være spesifikke: collection_retro_computers, hobby_programming.
2. memories: episodiske minner verdt å huske (1-2 setninger). Hendelser, planer, følelser,
   helse, jobb, steder og reaksjoner fra andre på Anda-prosjektet.
3. topics: velg fra %s.
4. importance: 1 = triviell småprat, 3 = moderat, 5 = personlig info, planer eller preferanser.

Bruk tidligere meldinger kun som kontekst. Ekstraher fra den nåværende meldingen.`

const closingRules = `Regler:
- Returner kun JSON, ingen forklaring.
- Ingenting å ekstrahere: returner tomme lister.
- Vær konservativ: bedre å ikke lagre enn å lagre feil.
- confidence mellom 0.5 og 1.0.`

func conversationPrompt(userText, aiText string, history []Exchange) string {
	var b strings.Builder
	b.WriteString("Analyser følgende samtale mellom bruker og AI-assistent.\n")
	fmt.Fprintf(&b, conversationRules, strings.Join(store.Topics, ", "))
	b.WriteString("\n")
	if len(history) > 0 {
		b.WriteString("\nTidligere samtale (kontekst):\n")
		for i, ex := range history {
			fmt.Fprintf(&b, "Melding %d:\nBruker: %s\nAI: %s\n", i+1, ex.User, truncate(ex.AI, 100))
		}
	}
	fmt.Fprintf(&b, "\nNåværende melding å analysere:\nBruker: %q\nAI: %q\n\nReturner JSON:\n%s\n\n%s\n",
		userText, aiText, resultShape, closingRules)
	return b.String()
}

func smsPrompt(sender, message string) string {
	prefix := keyPrefix(sender)
	return fmt.Sprintf(`Analyser følgende SMS fra %[1]s til AI-assistenten Anda.
Dette er en SMS FRA %[1]s, ikke fra eieren av Anda.

1. profile_facts: kun fakta %[1]s nevner om seg selv. Alle keys skal starte med "%[2]s_",
   for eksempel %[2]s_location eller %[2]s_partner_name.
2. memories: skriv i tredjeperson om %[1]s, aldri "brukeren".
   Riktig: "%[1]s varmer seg ved ovnen". Feil: "Brukeren varmer seg ved ovnen".
3. topics: velg fra %[3]s.

SMS fra %[1]s: %[4]s

Returner JSON:
%[5]s

%[6]s
`, sender, prefix, strings.Join(store.Topics, ", "), message, resultShape, closingRules)
}

func sessionPrompt(messages []Exchange) string {
	var b strings.Builder
	for i, m := range messages {
		fmt.Fprintf(&b, "[%d] Bruker: %s\n    AI: %s\n", i+1, m.User, truncate(m.AI, 200))
	}
	return fmt.Sprintf(`Analyser HELE samtale-sessionen under mellom bruker og AI-assistent.

Per-melding-extraction har allerede kjørt. IKKE gjenta enkeltfakta.
Fokuser på:
1. overordnede temaer og mønstre
2. stemning (var brukeren glad, frustrert, nostalgisk?)
3. sammenhenger mellom meldinger
4. planer som kommer fram gradvis
5. relasjoner som viser seg over tid

Samtale (%d meldinger):
%s
Returner JSON:
{
  "profile_facts": [{"key": "...", "value": "...", "topic": "...", "confidence": 0.7, "source": "session_insight"}],
  "memories": [{"text": "...", "topic": "...", "importance": 3, "confidence": 0.8}],
  "session_mood": "glad|nøytral|frustrert|nostalgisk|engasjert|sliten",
  "session_theme": "kort beskrivelse av hovedtemaet",
  "topics": ["..."],
  "importance": 3
}

Minner skal oppsummere hele samtalen, for eksempel
"Osmund hadde en lang og engasjert samtale om barndommen i Sokndal".
Returner tomme lister hvis ingen slike innsikter finnes.
`, len(messages), b.String())
}

func summaryPrompt(messages []Exchange, total int) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "Bruker: %s\nAI: %s\n\n", truncate(m.User, 100), truncate(m.AI, 100))
	}
	return fmt.Sprintf(`Oppsummer følgende samtale i 1-2 setninger på norsk.
Fokuser på hva samtalen handlet om og hva som er verdt å huske.

Samtale (%d meldinger):
%s
Returner JSON:
{"summary": "kort oppsummering"}
`, total, b.String())
}

func consolidationPrompt(topic string, texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return fmt.Sprintf(`Her er %d gamle minner om emnet "%s".
Slå dem sammen til 1-3 korte oppsummeringer på norsk som tar vare på det viktigste.
Ikke finn på noe som ikke står i minnene.

Minner:
%s
Returner JSON:
{"summaries": ["..."]}
`, len(texts), topic, b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
