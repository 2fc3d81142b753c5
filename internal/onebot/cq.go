package onebot

import "strings"

var paramEscaper = strings.NewReplacer(
	"&", "&amp;",
	"[", "&#91;",
	"]", "&#93;",
	",", "&#44;",
)

// cq renders a CQ code such as [CQ:image,file=...].
func cq(kind, key, value string) string {
	return "[CQ:" + kind + "," + key + "=" + paramEscaper.Replace(value) + "]"
}

// At mentions a QQ user.
func At(qq string) string { return cq("at", "qq", qq) }

// Image embeds an image by URL or file.
func Image(file string) string { return cq("image", "file", file) }

// Record embeds a voice message by URL or file.
func Record(file string) string { return cq("record", "file", file) }

// Mention prefixes text with a mention of qq.
func Mention(qq, text string) string {
	return At(qq) + " " + text
}
