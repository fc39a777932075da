package conversation

import "fmt"

// Canned replies by language. The general branch is LLM-generated; these
// cover the deterministic branches so they work even when the model is down.
// Keys must exist for "en"; other languages fall back to English when a key
// is missing.
var replyCatalog = map[string]map[string]string{
	"en": {
		"login_required":        "You must login first to schedule an appointment.",
		"ask_service":           "What service would you like to schedule?",
		"ask_date":              "What date would work for your %s appointment?",
		"ask_time":              "What time on that day works best for you?",
		"ask_datetime_explicit": "I could not pin down the exact date and time. Could you give them explicitly, for example \"3 September at 15:00\"?",
		"appointment_confirmed": "Your %s appointment is booked for %s at %s.",
		"appointment_retry":     "I could not save your appointment just now. Nothing was booked. Please try again in a moment.",
		"handoff_confirmed":     "I've asked a colleague to take over. Someone will be with you shortly.",
		"handoff_pending":       "I've noted your request for a colleague. We'll reach out as soon as someone is available.",
		"handoff_already":       "An operator is already assigned to this conversation and will reply here.",
		"search_intro":          "I found %d results for you:",
		"search_empty":          "I could not find anything matching that. Could you describe what you are looking for differently?",
		"order_clarify":         "I'm not sure which product you mean. Could you tell me the exact product name?",
		"order_confirmed":       "I've placed your order for %d x %s. You'll receive a confirmation soon.",
		"schedules_intro":       "Here are your appointments from the past year:",
		"schedules_empty":       "You have no appointments in the past year.",
		"tickets_intro":         "Here are your recent support requests:",
		"tickets_empty":         "You have no previous support requests.",
		"apology":               "Sorry, something went wrong on my side. Please try again.",
		"action_calendar":       "📅 Add to Google Calendar",
		"action_send_details":   "📩 Send me the details",
	},
	"fr": {
		"login_required":        "Vous devez d'abord vous connecter pour prendre un rendez-vous.",
		"ask_service":           "Quel service souhaitez-vous réserver ?",
		"ask_date":              "Quelle date vous conviendrait pour votre rendez-vous %s ?",
		"ask_time":              "Quelle heure ce jour-là vous convient le mieux ?",
		"ask_datetime_explicit": "Je n'ai pas pu déterminer la date et l'heure exactes. Pouvez-vous les donner explicitement, par exemple « 3 septembre à 15h00 » ?",
		"appointment_confirmed": "Votre rendez-vous %s est confirmé pour le %s à %s.",
		"appointment_retry":     "Je n'ai pas pu enregistrer votre rendez-vous. Rien n'a été réservé. Veuillez réessayer dans un instant.",
		"handoff_confirmed":     "J'ai demandé à un collègue de prendre le relais. Quelqu'un sera avec vous sous peu.",
		"handoff_pending":       "J'ai noté votre demande d'assistance. Nous vous contacterons dès qu'un collègue sera disponible.",
		"handoff_already":       "Un opérateur est déjà assigné à cette conversation et vous répondra ici.",
		"search_intro":          "J'ai trouvé %d résultats pour vous :",
		"search_empty":          "Je n'ai rien trouvé qui corresponde. Pouvez-vous décrire autrement ce que vous cherchez ?",
		"order_clarify":         "Je ne suis pas sûr du produit dont vous parlez. Pouvez-vous me donner le nom exact du produit ?",
		"order_confirmed":       "J'ai passé votre commande de %d x %s. Vous recevrez une confirmation bientôt.",
		"schedules_intro":       "Voici vos rendez-vous de l'année écoulée :",
		"schedules_empty":       "Vous n'avez aucun rendez-vous au cours de l'année écoulée.",
		"tickets_intro":         "Voici vos demandes d'assistance récentes :",
		"tickets_empty":         "Vous n'avez aucune demande d'assistance précédente.",
		"apology":               "Désolé, un problème est survenu de mon côté. Veuillez réessayer.",
		"action_calendar":       "📅 Ajouter à Google Agenda",
		"action_send_details":   "📩 Envoyez-moi les détails",
	},
	"ro": {
		"login_required":        "Trebuie să vă autentificați mai întâi pentru a programa o întâlnire.",
		"ask_service":           "Ce serviciu doriți să programați?",
		"ask_date":              "Ce dată vi s-ar potrivi pentru programarea %s?",
		"ask_time":              "Ce oră din acea zi vi se potrivește cel mai bine?",
		"ask_datetime_explicit": "Nu am putut stabili exact data și ora. Le puteți da explicit, de exemplu „3 septembrie la 15:00”?",
		"appointment_confirmed": "Programarea dvs. pentru %s este confirmată pe %s la %s.",
		"appointment_retry":     "Nu am putut salva programarea acum. Nimic nu a fost rezervat. Vă rugăm să încercați din nou în scurt timp.",
		"handoff_confirmed":     "Am rugat un coleg să preia conversația. Cineva vă va răspunde în curând.",
		"handoff_pending":       "Am notat solicitarea dumneavoastră. Vă vom contacta imediat ce un coleg este disponibil.",
		"handoff_already":       "Un operator este deja asignat acestei conversații și vă va răspunde aici.",
		"search_intro":          "Am găsit %d rezultate pentru dvs.:",
		"search_empty":          "Nu am găsit nimic potrivit. Puteți descrie altfel ce căutați?",
		"order_clarify":         "Nu sunt sigur la ce produs vă referiți. Îmi puteți spune numele exact al produsului?",
		"order_confirmed":       "Am plasat comanda pentru %d x %s. Veți primi o confirmare în curând.",
		"schedules_intro":       "Iată programările dvs. din ultimul an:",
		"schedules_empty":       "Nu aveți programări în ultimul an.",
		"tickets_intro":         "Iată solicitările dvs. recente de asistență:",
		"tickets_empty":         "Nu aveți solicitări de asistență anterioare.",
		"apology":               "Ne pare rău, a apărut o problemă. Vă rugăm să încercați din nou.",
		"action_calendar":       "📅 Adaugă în Google Calendar",
		"action_send_details":   "📩 Trimite-mi detaliile",
	},
}

func reply(lang, key string) string {
	if msgs, ok := replyCatalog[lang]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	return replyCatalog["en"][key]
}

func replyf(lang, key string, args ...any) string {
	return fmt.Sprintf(reply(lang, key), args...)
}
