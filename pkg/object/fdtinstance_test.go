package object

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
)

func TestFdtInstanceRoundTrip(t *testing.T) {
	inst := FdtInstance{
		XMLNS:         tools.StrPtr(XMLNSFdt),
		Expires:       "3927384400",
		Complete:      tools.BoolPtr(true),
		FECEncID:      tools.Uint8Ptr(uint8(oti.ReedSolomonGF28)),
		FECMaxSBL:     tools.Uint64Ptr(64),
		FECESL:        tools.Uint64Ptr(1024),
		FECMaxN:       tools.Uint64Ptr(84),
		SchemaVersion: tools.Uint32Ptr(4),
		Files: []FdtFile{
			{
				ContentLocation: "file:///hello.txt",
				TOI:             "1",
				ContentLength:   tools.Uint64Ptr(11),
				TransferLength:  tools.Uint64Ptr(11),
				ContentType:     tools.StrPtr("text/plain"),
				ContentEncoding: tools.StrPtr("null"),
				ContentMD5:      tools.StrPtr("XrY7u+Ae7tCTyyK7j1rNww=="),
			},
		},
	}

	buf, err := xml.Marshal(&inst)
	require.NoError(t, err)

	decoded, err := ParseFdtInstance(buf)
	require.NoError(t, err)

	require.Equal(t, inst.Expires, decoded.Expires)
	require.NotNil(t, decoded.Complete)
	require.True(t, *decoded.Complete)
	require.Len(t, decoded.Files, 1)

	file := decoded.GetFile("1")
	require.NotNil(t, file)
	require.Equal(t, "file:///hello.txt", file.ContentLocation)
	require.Equal(t, uint64(11), file.GetTransferLength())
	require.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", *file.ContentMD5)

	o := decoded.GetOtiForFile(file)
	require.NotNil(t, o)
	require.Equal(t, oti.ReedSolomonGF28, o.FecEncodingID)
	require.Equal(t, uint32(64), o.MaximumSourceBlockLength)
	require.Equal(t, uint16(1024), o.EncodingSymbolLength)
	require.Equal(t, uint32(20), o.MaxNumberOfParitySymbols)
}

func TestFdtInstanceUnknownAttributes(t *testing.T) {
	// processContents="skip"：未知属性/元素不报错
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<FDT-Instance xmlns="urn:IETF:metadata:2005:FLUTE:FDT" Expires="3927384400" X-Custom="whatever">
  <File Content-Location="file:///a" TOI="3" Transfer-Length="100" Unknown-Attr="1">
    <SomeVendorElement>ignored</SomeVendorElement>
  </File>
</FDT-Instance>`)

	decoded, err := ParseFdtInstance(raw)
	require.NoError(t, err)
	require.Len(t, decoded.Files, 1)
	require.Equal(t, "3", decoded.Files[0].TOI)
	require.Equal(t, uint64(100), decoded.Files[0].GetTransferLength())
}

func TestFdtInstanceMalformed(t *testing.T) {
	_, err := ParseFdtInstance([]byte("this is not xml <"))
	require.Error(t, err)
}

func TestFdtInstanceExpirationDate(t *testing.T) {
	inst := FdtInstance{Expires: "3927384400"}
	exp := inst.GetExpirationDate()
	require.NotNil(t, exp)
	// NTP 3927384400s = 2024-06-14 UTC 附近
	require.Equal(t, 2024, exp.Year())

	bad := FdtInstance{Expires: "not-a-number"}
	require.Nil(t, bad.GetExpirationDate())
}

func TestCencFromContentEncoding(t *testing.T) {
	f := FdtFile{ContentEncoding: tools.StrPtr("gzip")}
	require.Equal(t, "gzip", f.GetContentEncoding().String())

	f = FdtFile{}
	require.Equal(t, "null", f.GetContentEncoding().String())
}
