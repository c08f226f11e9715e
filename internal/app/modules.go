package app

import (
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/modules/cipher"
	"github.com/vk/byteflow/modules/codec"
	"github.com/vk/byteflow/modules/digest"
	"github.com/vk/byteflow/modules/httpfetch"
	"github.com/vk/byteflow/modules/imagery"
	"github.com/vk/byteflow/modules/structured"
	"github.com/vk/byteflow/modules/textio"
	"github.com/vk/byteflow/modules/transform"
)

// coreModules is the default set of built-in operation families registered
// when the caller does not inject its own.
var coreModules = []registry.Module{
	&textio.Module{},
	&codec.Module{},
	&cipher.Module{},
	&digest.Module{},
	&transform.Module{},
	&structured.Module{},
	&imagery.Module{},
	&httpfetch.Module{},
}
