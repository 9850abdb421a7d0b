package wechatpay

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// xmlParams v2 协议的扁平 XML 报文：<xml><k><![CDATA[v]]></k>...</xml>
type xmlParams map[string]string

type cdataValue struct {
	Value string `xml:",cdata"`
}

// MarshalXML 按键名排序输出，保证报文稳定
func (p xmlParams) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	root := xml.StartElement{Name: xml.Name{Local: "xml"}}
	if err := e.EncodeToken(root); err != nil {
		return err
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.EncodeElement(cdataValue{Value: p[k]}, xml.StartElement{Name: xml.Name{Local: k}}); err != nil {
			return err
		}
	}
	if err := e.EncodeToken(root.End()); err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML 读取一层子元素，忽略嵌套结构；字段值保持原样以便验签
func (p *xmlParams) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	out := xmlParams{}
	for {
		token, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch elem := token.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &elem); err != nil {
				return err
			}
			out[elem.Name.Local] = value
		case xml.EndElement:
			*p = out
			return nil
		}
	}
	*p = out
	return nil
}

func encodeXML(params map[string]string) ([]byte, error) {
	return xml.Marshal(xmlParams(params))
}

func decodeXML(body []byte) (map[string]string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("empty xml body")
	}
	var params xmlParams
	if err := xml.Unmarshal(body, &params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("xml body has no fields")
	}
	return params, nil
}

// xmlField 读取业务字段并去除首尾空白，验签仍使用原始值
func xmlField(fields map[string]string, key string) string {
	return strings.TrimSpace(fields[key])
}
