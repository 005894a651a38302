package automation

import (
	"strings"
	"time"

	"groupbot/internal/transport"
)

// ContactPlaceholder is replaced by the contact number in the restricted notice.
const ContactPlaceholder = "{contact}"

const (
	DefaultContactNumber = "848619531"

	DefaultRestrictedNotice = "🌙 *Grupo fechado automaticamente*\n\n📞 *Se precisar dos nossos serviços, ligue:* *" + ContactPlaceholder + "*"
	DefaultOpenNotice       = "☀️ *Grupo aberto automaticamente*\n\n🛒 *Já podemos fazer os pedidos!*"

	DefaultImageDelay   = 5 * time.Second
	DefaultPaymentDelay = 4 * time.Second

	// MaxImageSteps bounds the image+caption steps of one broadcast.
	MaxImageSteps = 3
	// MaxPromotionTargets bounds the promotion target list; extras are ignored.
	MaxPromotionTargets = 4
)

// Notices are the texts sent after a successful mode change.
type Notices struct {
	Restricted string
	Open       string
	Contact    string
}

func DefaultNotices() Notices {
	return Notices{Restricted: DefaultRestrictedNotice, Open: DefaultOpenNotice, Contact: DefaultContactNumber}
}

// For renders the notice for mode, filling in the contact number.
func (n Notices) For(mode transport.GroupMode) string {
	if mode == transport.ModeOpen {
		return n.Open
	}
	return strings.ReplaceAll(n.Restricted, ContactPlaceholder, n.Contact)
}

// ManualTexts are the replies of the manual group command.
type ManualTexts struct {
	Closed        string
	Opened        string
	AlreadyClosed string
	AlreadyOpen   string
	GroupOnly     string
	NotAllowed    string
	NoMetadata    string
	AdminOnly     string
	ChangeFailed  string
}

func DefaultManualTexts() ManualTexts {
	return ManualTexts{
		Closed:        "✅ Grupo fechado manualmente! Apenas admins podem enviar mensagens.",
		Opened:        "✅ Grupo aberto manualmente! Todos podem enviar mensagens.",
		AlreadyClosed: "ℹ️ O grupo já está fechado.",
		AlreadyOpen:   "ℹ️ O grupo já está aberto.",
		GroupOnly:     "❌ Este comando só funciona em grupos.",
		NotAllowed:    "🔒 Este grupo não está autorizado a usar este comando.",
		NoMetadata:    "❌ Não foi possível obter informações do grupo.",
		AdminOnly:     "👮‍♂️ Apenas administradores podem usar este comando.",
		ChangeFailed:  "❌ Falha ao alterar configuração do grupo. Verifique se o bot é administrador.",
	}
}

// ImageStep sends one named asset with a caption.
type ImageStep struct {
	Asset   string
	Caption string
}

// Plan is the ordered broadcast sent to one group.
type Plan struct {
	Images       []ImageStep
	ImageDelay   time.Duration
	PaymentText  string
	PaymentDelay time.Duration
	LinkText     string
}

func DefaultPlan() Plan {
	return Plan{
		Images: []ImageStep{
			{Asset: "fotos/tabela.jpg", Caption: "📊 *Tabela Completa de Pacotes Atualizada!*"},
			{Asset: "fotos/ilimitado.png", Caption: defaultUnlimitedCaption},
			{Asset: "fotos/Netflix.jpeg", Caption: "🎬 *Promoção Netflix Ativada!*"},
		},
		ImageDelay:   DefaultImageDelay,
		PaymentText:  defaultPaymentText,
		PaymentDelay: DefaultPaymentDelay,
		LinkText:     defaultLinkText,
	}
}

// DefaultPromotionTriggers are the daily broadcast times (minute hour).
var DefaultPromotionTriggers = []string{
	"32 6 * * *",
	"35 12 * * *",
	"35 14 * * *",
	"35 17 * * *",
	"35 20 * * *",
	"20 22 * * *",
}

const defaultUnlimitedCaption = "📞 *TUDO TOP VODACOM*\n📍 Chamadas e SMS ilimitadas para Todas Redes\n\n📆 30 dias\n\n" +
	"450MT 🔥 11GB + ilimitado chamadas/SMS\n" +
	"550MT 🔥 16GB + ilimitado chamadas/SMS\n" +
	"650MT 🔥 21GB + ilimitado chamadas/SMS\n" +
	"850MT 🔥 31GB + ilimitado chamadas/SMS\n" +
	"1080MT 🔥 41GB + ilimitado chamadas/SMS\n" +
	"1300MT 🔥 51GB + ilimitado chamadas/SMS\n\n" +
	"> TOPAINETGIGAS 🛜✅"

const defaultPaymentText = `📱 *Formas de Pagamento Atualizadas* 💳

1. M-PESA 📱
   - Número: 851470605
   - MANUEL ZOCA

2. E-MOLA 💸
   - Número: 872960710
   - MANUEL ZOCA

3. BIM 🏦
   - Conta nº: 1059773792
   - CHONGO MANUEL

Após efetuar o pagamento, por favor, envie o comprovante da transferência juntamente com seu contato.`

const defaultLinkText = `🌐 *Acesse nosso site:* https://topai-net-gigas.netlify.app/

💎 Quem fizer pedidos pelo site ganha bônus exclusivo: *Bacela* 🎁

@todos`
