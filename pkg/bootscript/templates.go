package bootscript

import "text/template"

// The three built-in iPXE templates mirror the teacher's own
// DefaultIPXETemplate/MinimalIPXETemplate/ErrorIPXETemplate shape
// (pkg/controllers/bootscript package doc), rewritten for PureBoot's
// workflow/callback model instead of the teacher's XName boot
// configuration.

const installTemplateSrc = `#!ipxe
kernel {{.Kernel}} ip=dhcp {{.Cmdline}}
initrd {{.Initrd}}
imgargs kernel {{.Cmdline}} pureboot.callback={{.CallbackURL}}
boot
`

const localBootTemplateSrc = `#!ipxe
echo PureBoot: {{.Message}}
exit
`

const errorTemplateSrc = `#!ipxe
echo PureBoot error: {{.Message}}
echo Falling back to local disk boot.
exit
`

const stepScriptTemplateSrc = `#!ipxe
echo PureBoot: fetching step script
imgfetch {{.ScriptURL}} script.sh
imgargs script.sh pureboot.callback={{.CallbackURL}}
exec script.sh
`

const stepRebootTemplateSrc = `#!ipxe
echo PureBoot: rebooting and reporting to {{.CallbackURL}}
reboot
`

const stepCloudInitTemplateSrc = `#!ipxe
echo PureBoot: awaiting cloud-init phone-home to {{.CallbackURL}}
boot
`

var (
	installTemplate       = template.Must(template.New("install").Parse(installTemplateSrc))
	localBootTemplate     = template.Must(template.New("local").Parse(localBootTemplateSrc))
	errorTemplate         = template.Must(template.New("error").Parse(errorTemplateSrc))
	stepScriptTemplate    = template.Must(template.New("step-script").Parse(stepScriptTemplateSrc))
	stepRebootTemplate    = template.Must(template.New("step-reboot").Parse(stepRebootTemplateSrc))
	stepCloudInitTemplate = template.Must(template.New("step-cloudinit").Parse(stepCloudInitTemplateSrc))
)

type installTemplateData struct {
	Kernel      string
	Initrd      string
	Cmdline     string
	CallbackURL string
}

type messageTemplateData struct {
	Message string
}

type stepScriptTemplateData struct {
	ScriptURL   string
	CallbackURL string
}

type stepCallbackTemplateData struct {
	CallbackURL string
}
