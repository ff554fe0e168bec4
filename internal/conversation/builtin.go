package conversation

import (
	"strings"
	"time"
)

// Built-in intents resolved before the responder is consulted. Matching is
// substring containment on the lowercased command, first table hit wins.
var builtinIntents = []struct {
	keywords []string
	respond  func(now time.Time) string
}{
	{
		keywords: []string{"bonjour", "salut", "hello", "bonsoir"},
		respond:  func(time.Time) string { return "Bonjour ! Comment puis-je vous aider ?" },
	},
	{
		keywords: []string{"statut", "status", "comment vas-tu", "ça va"},
		respond: func(time.Time) string {
			return "Je vais bien, merci ! Tous mes systèmes fonctionnent correctement."
		},
	},
	{
		keywords: []string{"heure", "temps", "quelle heure"},
		respond: func(now time.Time) string {
			return "Il est " + now.Format("15:04") + "."
		},
	},
	{
		keywords: []string{"au revoir", "bye", "à bientôt", "stop"},
		respond: func(time.Time) string {
			return "Au revoir ! N'hésitez pas à me rappeler si vous avez besoin d'aide."
		},
	},
	{
		keywords: []string{"aide", "help", "que peux-tu faire"},
		respond: func(time.Time) string {
			return "Je peux vous aider avec diverses tâches. Posez-moi des questions ou donnez-moi des instructions !"
		},
	},
}

// apologyResponse replaces any responder failure; failures never propagate.
const apologyResponse = "Désolé, j'ai eu un problème pour traiter votre demande."

// clarificationResponses are used when neither a built-in intent nor the
// responder produced anything.
var clarificationResponses = []string{
	"Je ne suis pas sûr de comprendre. Pouvez-vous reformuler ?",
	"Désolé, je n'ai pas bien saisi votre demande.",
	"Pouvez-vous répéter ou être plus précis ?",
	"Je n'ai pas compris. Pouvez-vous m'expliquer différemment ?",
}

// builtinResponse returns the built-in reply for a command, or ok=false
// when no intent matches.
func builtinResponse(command string, now time.Time) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, intent := range builtinIntents {
		for _, kw := range intent.keywords {
			if strings.Contains(lower, kw) {
				return intent.respond(now), true
			}
		}
	}
	return "", false
}
