package notify

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

type entry struct {
	key string
	en  string
	id  string
}

var entries = []entry{
	{"failed.auth_error.title", "API key problem", "Masalah kunci API"},
	{"failed.auth_error.message", "The API key was rejected. Check it in settings and try again.", "Kunci API ditolak. Periksa di pengaturan lalu coba lagi."},
	{"failed.quota_exceeded.title", "Quota exceeded", "Kuota habis"},
	{"failed.quota_exceeded.message", "Your API quota is used up. Wait a while or update your key in settings.", "Kuota API Anda habis. Tunggu sebentar atau perbarui kunci di pengaturan."},
	{"failed.payload_too_large.title", "Images too large", "Gambar terlalu besar"},
	{"failed.payload_too_large.message", "The images were too large to send. Try smaller or fewer images.", "Gambar terlalu besar untuk dikirim. Coba gambar yang lebih kecil atau lebih sedikit."},
	{"failed.malformed_request.title", "Request rejected", "Permintaan ditolak"},
	{"failed.malformed_request.message", "The generation service rejected the request.", "Layanan pembuatan gambar menolak permintaan."},
	{"failed.no_image_in_response.title", "No image generated", "Tidak ada gambar"},
	{"failed.no_image_in_response.message", "The service answered without an image. Try different photos.", "Layanan menjawab tanpa gambar. Coba foto yang berbeda."},
	{"failed.timeout.title", "Generation timed out", "Waktu habis"},
	{"failed.timeout.message", "Generation took longer than %d minutes and was stopped.", "Pembuatan lebih dari %d menit dan dihentikan."},
	{"failed.network_error.title", "Connection problem", "Masalah koneksi"},
	{"failed.network_error.message", "Could not reach the generation service. Check your connection.", "Tidak dapat menghubungi layanan. Periksa koneksi Anda."},
	{"failed.compression_error.title", "Image could not be read", "Gambar tidak dapat dibaca"},
	{"failed.compression_error.message", "One of the images could not be processed. Try another file.", "Salah satu gambar tidak dapat diproses. Coba berkas lain."},
	{"failed.unknown.title", "Generation failed", "Pembuatan gagal"},
	{"failed.unknown.message", "Something went wrong while generating.", "Terjadi kesalahan saat membuat gambar."},

	{"done.tryon.title", "Outfit ready", "Pakaian siap"},
	{"done.tryon.message", "Your try-on image is ready.", "Gambar coba pakaian Anda sudah siap."},
	{"done.tryon-multi.message", "Your %d-item outfit is ready.", "Pakaian %d item Anda sudah siap."},
	{"done.avatars.title", "Avatars ready", "Avatar siap"},
	{"done.avatars.message", "All %d avatars were generated.", "Semua %d avatar berhasil dibuat."},
	{"partial.avatars.title", "Some avatars failed", "Sebagian avatar gagal"},
	{"partial.avatars.message", "%d of %d avatars were generated. You can retry the failed poses.", "%d dari %d avatar berhasil dibuat. Anda dapat mencoba ulang pose yang gagal."},
	{"done.retry.title", "Avatars updated", "Avatar diperbarui"},
	{"done.retry.message", "%d of %d retried poses succeeded.", "%d dari %d pose yang dicoba ulang berhasil."},

	{"precondition.missing_credential.title", "API key required", "Kunci API diperlukan"},
	{"precondition.missing_credential.message", "Add your API key in settings before generating.", "Tambahkan kunci API di pengaturan sebelum membuat gambar."},
	{"precondition.no_avatar.title", "No avatar", "Belum ada avatar"},
	{"precondition.no_avatar.message", "Generate an avatar before trying on clothes.", "Buat avatar sebelum mencoba pakaian."},
	{"precondition.no_garments.title", "No clothing selected", "Belum ada pakaian"},
	{"precondition.no_garments.message", "Select at least one clothing item.", "Pilih setidaknya satu pakaian."},
	{"precondition.no_source_photos.title", "Photos unavailable", "Foto tidak tersedia"},
	{"precondition.no_source_photos.message", "The original photos are gone. Upload them again to regenerate avatars.", "Foto asli tidak ada. Unggah lagi untuk membuat ulang avatar."},
	{"precondition.nothing_to_retry.title", "Nothing to retry", "Tidak ada yang dicoba ulang"},
	{"precondition.nothing_to_retry.message", "All avatars were generated successfully.", "Semua avatar berhasil dibuat."},
	{"precondition.invalid_input.title", "Invalid input", "Masukan tidak valid"},
	{"precondition.invalid_input.message", "The request could not be used. Check the selected images.", "Permintaan tidak dapat digunakan. Periksa gambar yang dipilih."},
	{"precondition.generation_in_progress.title", "Generation in progress", "Sedang membuat"},
	{"precondition.generation_in_progress.message", "Wait for the current generation to finish.", "Tunggu hingga proses saat ini selesai."},
}

var messages = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, e := range entries {
		if err := b.SetString(language.English, e.key, e.en); err != nil {
			panic(fmt.Sprintf("notify: catalog %s: %v", e.key, err))
		}
		if err := b.SetString(language.Indonesian, e.key, e.id); err != nil {
			panic(fmt.Sprintf("notify: catalog %s: %v", e.key, err))
		}
	}
	return b
}

// Localizer renders notifications in one locale.
type Localizer struct {
	printer *message.Printer
	now     func() time.Time
}

// NewLocalizer matches locale against the supported languages. Unknown
// locales fall back to English.
func NewLocalizer(locale string) Localizer {
	_, idx, _ := matcher.Match(language.Make(locale))
	return Localizer{
		printer: message.NewPrinter(supported[idx], message.Catalog(messages)),
		now:     time.Now,
	}
}

func (l Localizer) text(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Failure builds the error notification for a failed job. A user message
// carried by the error replaces the generic text.
func (l Localizer) Failure(job domain.GenerationJob, userMessage string) domain.Notification {
	kind := job.ErrorKind
	if kind == "" {
		kind = domain.KindUnknown
	}
	var msg string
	if kind == domain.KindTimeout {
		minutes := int(job.TimeoutBudget / time.Minute)
		if minutes < 1 {
			minutes = 1
		}
		msg = l.text("failed.timeout.message", minutes)
	} else {
		msg = l.text("failed." + string(kind) + ".message")
	}
	if userMessage != "" {
		msg = userMessage
	}
	n := domain.Notification{
		Level:     domain.LevelError,
		Title:     l.text("failed." + string(kind) + ".title"),
		Message:   msg,
		JobID:     job.ID,
		JobKind:   job.Kind,
		ErrorKind: kind,
		CreatedAt: l.now().UTC(),
	}
	if kind.RoutesToCredentials() {
		n.Action = domain.ActionOpenCredentialSettings
	}
	return n
}

// TryOnReady announces a finished try-on.
func (l Localizer) TryOnReady(job domain.GenerationJob) domain.Notification {
	msg := l.text("done.tryon.message")
	if n := len(job.Inputs.GarmentRefs); job.Kind == domain.JobKindMultiItemTryOn && n > 1 {
		msg = l.text("done.tryon-multi.message", n)
	}
	return domain.Notification{
		Level:     domain.LevelSuccess,
		Title:     l.text("done.tryon.title"),
		Message:   msg,
		JobID:     job.ID,
		JobKind:   job.Kind,
		CreatedAt: l.now().UTC(),
	}
}

// AvatarsReady announces a finished avatar batch. A partial batch is a
// warning that points at retry.
func (l Localizer) AvatarsReady(job domain.GenerationJob, succeeded, total int) domain.Notification {
	n := domain.Notification{
		Level:     domain.LevelSuccess,
		Title:     l.text("done.avatars.title"),
		Message:   l.text("done.avatars.message", total),
		JobID:     job.ID,
		JobKind:   job.Kind,
		CreatedAt: l.now().UTC(),
	}
	if succeeded < total {
		n.Level = domain.LevelWarning
		n.Title = l.text("partial.avatars.title")
		n.Message = l.text("partial.avatars.message", succeeded, total)
	}
	return n
}

// RetryDone reports how many retried poses recovered.
func (l Localizer) RetryDone(job domain.GenerationJob, succeeded, total int) domain.Notification {
	level := domain.LevelSuccess
	if succeeded < total {
		level = domain.LevelWarning
	}
	return domain.Notification{
		Level:     level,
		Title:     l.text("done.retry.title"),
		Message:   l.text("done.retry.message", succeeded, total),
		JobID:     job.ID,
		JobKind:   job.Kind,
		CreatedAt: l.now().UTC(),
	}
}

// Precondition builds the warning for a start request that never ran.
// reason is a domain.PreconditionReason or "generation_in_progress".
func (l Localizer) Precondition(kind domain.JobKind, reason string) domain.Notification {
	n := domain.Notification{
		Level:     domain.LevelWarning,
		Title:     l.text("precondition." + reason + ".title"),
		Message:   l.text("precondition." + reason + ".message"),
		JobKind:   kind,
		CreatedAt: l.now().UTC(),
	}
	if reason == string(domain.ReasonMissingCredential) {
		n.Action = domain.ActionOpenCredentialSettings
	}
	return n
}

// PreconditionMessage returns only the localized message for reason.
func (l Localizer) PreconditionMessage(reason string) string {
	return l.text("precondition." + reason + ".message")
}
