// Package security 外发附件的文件名与类型规范化。
package security

import (
	"bytes"
	"mime"
	"path"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

// SniffLen 类型识别需要读取的文件头长度
const SniffLen = 3072

const (
	fallbackName = "attachment"
	octetStream  = "application/octet-stream"
)

// executableSignatures 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
	{0xCF, 0xFA, 0xED, 0xFE}, // Mach-O 64
}

// executableExtensions 常见的可执行或脚本扩展名
var executableExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".scr": true,
	".pif": true,
	".com": true,
	".vbs": true,
	".js":  true,
	".jar": true,
	".ps1": true,
}

// Inspection 附件检查结果
type Inspection struct {
	Filename    string
	ContentType string
	Executable  bool
}

// Inspect 规范化上传附件。
// declared 为客户端声明的类型，head 为文件开头（至多 SniffLen 字节）。
// 声明的类型缺失、无法解析或为 application/octet-stream 时按内容识别。
func Inspect(filename, declared string, head []byte) Inspection {
	name := SanitizeFilename(filename)
	ext := strings.ToLower(path.Ext(name))

	return Inspection{
		Filename:    name,
		ContentType: contentType(declared, ext, head),
		Executable:  executableExtensions[ext] || hasExecutableMagic(head),
	}
}

// SanitizeFilename 去掉路径部分和控制字符，避免文件名注入邮件头
func SanitizeFilename(filename string) string {
	name := strings.ReplaceAll(filename, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}

func contentType(declared, ext string, head []byte) string {
	if mediaType, params, err := mime.ParseMediaType(declared); err == nil && mediaType != octetStream {
		return mime.FormatMediaType(mediaType, params)
	}
	if len(head) > 0 {
		if detected := mimetype.Detect(head); !detected.Is(octetStream) {
			return detected.String()
		}
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return octetStream
}

func hasExecutableMagic(head []byte) bool {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(head, sig) {
			return true
		}
	}
	return false
}
